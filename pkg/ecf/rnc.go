package ecf

import (
	"fmt"
	"unicode"
)

// pesos para el dígito verificador del RNC (módulo 11, Norma DGII).
// Se aplican a los 8 primeros dígitos del RNC, de izquierda a derecha.
var rncWeights = [8]int{7, 9, 8, 6, 5, 4, 3, 2}

// ValidateRNC valida que el RNC (9 dígitos, con o sin guiones) tenga un dígito
// verificador correcto según el algoritmo módulo 11 de la DGII.
// También acepta cédulas de 11 dígitos, validadas con el algoritmo de Luhn.
func ValidateRNC(id string) error {
	digits := extractDigits(id)
	switch len(digits) {
	case 9:
		return validateRNC9(digits)
	case 11:
		return validateCedula(digits)
	default:
		return fmt.Errorf("ecf: identificación debe tener 9 (RNC) u 11 (cédula) dígitos, se encontraron %d", len(digits))
	}
}

func validateRNC9(digits string) error {
	var sum int
	for i := 0; i < 8; i++ {
		sum += int(digits[i]-'0') * rncWeights[i]
	}
	remainder := sum % 11
	var expected byte
	switch remainder {
	case 0:
		expected = '2'
	case 1:
		expected = '1'
	default:
		expected = byte('0' + (11 - remainder))
	}
	if digits[8] != expected {
		return fmt.Errorf("ecf: dígito verificador del RNC inválido: esperado %c, recibido %c", expected, digits[8])
	}
	return nil
}

// validateCedula aplica Luhn sobre los 10 primeros dígitos de la cédula.
func validateCedula(digits string) error {
	var sum int
	for i := 0; i < 10; i++ {
		d := int(digits[i] - '0')
		if i%2 != 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	expected := byte('0' + (10-sum%10)%10)
	if digits[10] != expected {
		return fmt.Errorf("ecf: dígito verificador de la cédula inválido: esperado %c, recibido %c", expected, digits[10])
	}
	return nil
}

func extractDigits(s string) string {
	var b []byte
	for _, r := range s {
		if unicode.IsDigit(r) {
			b = append(b, byte(r))
		}
	}
	return string(b)
}
