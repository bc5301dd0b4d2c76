package clientkey

// CredentialProvider answers password queries from an external signing
// layer.
type CredentialProvider interface {
	Password(alias string) (string, error)
}

// CredentialEntry is the alias and password pair of a PasswordCallback.
type CredentialEntry struct {
	Alias    string
	Password string
}

// PasswordCallback serves the construction password for the identity's alias
// only.
type PasswordCallback struct {
	key *ClientKey
}

var _ CredentialProvider = (*PasswordCallback)(nil)

// Password returns the password for alias. Any alias other than the one the
// ClientKey was built for is rejected with ErrAliasMismatch.
func (c *PasswordCallback) Password(alias string) (string, error) {
	return c.key.passwordFor(alias)
}

// Entry returns the credential pair this callback serves.
func (c *PasswordCallback) Entry() (CredentialEntry, error) {
	pw, err := c.key.passwordFor(c.key.alias)
	if err != nil {
		return CredentialEntry{}, err
	}
	return CredentialEntry{Alias: c.key.alias, Password: pw}, nil
}
