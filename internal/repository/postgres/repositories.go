package postgres

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Profiles    *ProfileRepository
	Credentials *CredentialRepository
}

// NewRepositories wires all repositories backed by the provided executor, usually a *pgxpool.Pool.
func NewRepositories(exec pgExecutor) *Repositories {
	return &Repositories{
		Profiles:    NewProfileRepository(exec),
		Credentials: NewCredentialRepository(exec),
	}
}
