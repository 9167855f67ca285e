package auth

// IsAgentScoped reports whether a decodable, unexpired tenant context exists.
// Agent-space routes require it; without it the caller redirects to login.
func (m *Manager) IsAgentScoped() bool {
	p, err := m.CurrentContext()
	return err == nil && p != nil
}

// IsAdminAuthenticated reports whether an admin session exists. Admin-space
// routes require it. It is independent of IsAgentScoped: both may hold at once.
func (m *Manager) IsAdminAuthenticated() bool {
	u, err := m.AdminSession()
	return err == nil && u != nil && u.IsAdmin
}
