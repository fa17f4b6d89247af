package auth

import "testing"

func TestCredentialsFind(t *testing.T) {
	credentials := NewCredentials([]Credential{
		{Username: "acs-user", Password: "acs-password"},
		{Username: "acs-user-next", Password: "rotated-password"},
	})

	credential, ok := credentials.Find("acs-user")
	if !ok {
		t.Fatalf("expected acs-user to be found")
	}
	if credential.Password != "acs-password" {
		t.Fatalf("expected acs-password, got %q", credential.Password)
	}

	if _, ok := credentials.Find("nobody"); ok {
		t.Fatalf("expected miss for unknown username")
	}
}

func TestCredentialsIsValid(t *testing.T) {
	credentials := NewCredentials([]Credential{
		{Username: "acs-user", Password: "acs-password"},
	})

	if !credentials.IsValid("acs-user", "acs-password") {
		t.Fatalf("expected valid credential pair to pass")
	}
	if credentials.IsValid("acs-user", "acs-passworD") {
		t.Fatalf("expected wrong password to fail")
	}
	if credentials.IsValid("other-user", "acs-password") {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestCredentialsSkipInvalidEntries(t *testing.T) {
	credentials := NewCredentials([]Credential{
		{Username: "  ", Password: "x"},
		{Username: "user", Password: ""},
		{Username: " trimmed ", Password: "secret"},
	})

	if credentials.Len() != 1 {
		t.Fatalf("expected 1 usable credential, got %d", credentials.Len())
	}
	if !credentials.IsValid("trimmed", "secret") {
		t.Fatalf("expected trimmed username to be valid")
	}
}
