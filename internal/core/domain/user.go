package domain

// UserID identifies the authenticated caller behind a connection. Empty for
// anonymous connections; several connections may share one user.
type UserID string
