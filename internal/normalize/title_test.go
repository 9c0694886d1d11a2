package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		titre       string
		wantMarque  string
		wantModele  string
		wantVersion string
	}{
		{"207 1.4 HDi 70ch", "Peugeot", "207", "1.4 HDi 70ch"},
		{"Clio 3 1.5 dCi 85ch", "Renault", "Clio", "3 1.5 dCi 85ch"},
		{"C3 1.4 HDi 70", "Citroën", "C3", "1.4 HDi 70"},
		{"Peugeot 207 1.4 HDi", "Peugeot", "207", "1.4 HDi"},
		{"Volkswagen Golf 4 TDI", "Volkswagen", "Golf", "4 TDI"},
		{"Sandero Stepway 0.9 TCe", "Dacia", "Sandero", "Stepway 0.9 TCe"},
		{"", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.titre, func(t *testing.T) {
			marque, modele, version := Title(tt.titre)
			assert.Equal(t, tt.wantMarque, marque)
			assert.Equal(t, tt.wantModele, modele)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestMarque(t *testing.T) {
	assert.Equal(t, "Peugeot", Marque("peugeot"))
	assert.Equal(t, "Volkswagen", Marque("VW"))
	assert.Equal(t, "Mercedes-Benz", Marque("Mercedes"))
	assert.Equal(t, "Citroën", Marque("citroen"))
	assert.Equal(t, "Alfa Romeo", Marque("alfa"))
	assert.Equal(t, "", Marque("  "))
}

func TestModele(t *testing.T) {
	assert.Equal(t, "Clio", Modele("Clio 1.5 dCi"))
	assert.Equal(t, "207", Modele("207"))
	assert.Equal(t, "Golf", Modele("golf 110 ch"))
}

func TestMotorisation(t *testing.T) {
	assert.Equal(t, "1.4 HDi", Motorisation("Peugeot 207 1.4 HDi 70ch"))
	assert.Equal(t, "1.5 dci", Motorisation("clio 1.5 dci"))
	assert.Equal(t, "", Motorisation("aucun moteur mentionné"))
}
