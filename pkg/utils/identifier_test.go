package utils

import "testing"

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"mute", "cmdadd", "read-only", "devtools"}
	for _, id := range valid {
		if err := ValidateIdentifier(id); err != nil {
			t.Errorf("expected %q to be valid, got %v", id, err)
		}
	}

	invalid := []string{"", "Mute", "two words", "tab\tname", `quo"te`, "it's", `back\slash`}
	for _, id := range invalid {
		if err := ValidateIdentifier(id); err == nil {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}
