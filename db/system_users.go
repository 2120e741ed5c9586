package db

// System user UUIDs recorded as the actor of automated writes.
// These correspond to system users created by the schema migration.
const (
	// SystemUserRotation owns shifts materialized by the rotation generator
	SystemUserRotation = "00000000-0000-0000-0000-000000000010"

	// SystemUserEscalation owns writes made by the escalation worker
	SystemUserEscalation = "00000000-0000-0000-0000-000000000011"

	// SystemUserRouting owns routing tables created through the CLI
	SystemUserRouting = "00000000-0000-0000-0000-000000000012"
)

// ActorOrSystem returns actor when set, otherwise the given system user.
func ActorOrSystem(actor, systemUser string) string {
	if actor == "" {
		return systemUser
	}
	return actor
}
