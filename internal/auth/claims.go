package auth

// Claim extraction helpers. Each returns "" when the token does not validate
// or the claim is absent.

func (m *Manager) claimsOrNil(token string) *Claims {
	c, err := m.VerifyAccessToken(token)
	if err != nil {
		return nil
	}
	return c
}

func (m *Manager) UserIDFromToken(token string) string {
	if c := m.claimsOrNil(token); c != nil {
		return c.Subject
	}
	return ""
}

func (m *Manager) UsernameFromToken(token string) string {
	if c := m.claimsOrNil(token); c != nil {
		return c.Username
	}
	return ""
}

func (m *Manager) EmailFromToken(token string) string {
	if c := m.claimsOrNil(token); c != nil {
		return c.Email
	}
	return ""
}

func (m *Manager) FirstNameFromToken(token string) string {
	if c := m.claimsOrNil(token); c != nil {
		return c.FirstName
	}
	return ""
}

func (m *Manager) LastNameFromToken(token string) string {
	if c := m.claimsOrNil(token); c != nil {
		return c.LastName
	}
	return ""
}

func (m *Manager) RoleFromToken(token string) string {
	if c := m.claimsOrNil(token); c != nil {
		return c.Role
	}
	return ""
}
