package utils

import "testing"

func TestValidatePhoneNumber(t *testing.T) {
	valid := []string{
		"+85512345678",
		"012 345 678", // local format, default region
		"+16502530000",
	}
	for _, number := range valid {
		if err := ValidatePhoneNumber(number); err != nil {
			t.Fatalf("%q should be valid: %v", number, err)
		}
	}

	invalid := []string{"1234", "+8551", "not-a-number"}
	for _, number := range invalid {
		if err := ValidatePhoneNumber(number); err == nil {
			t.Fatalf("%q should be rejected", number)
		}
	}
}
