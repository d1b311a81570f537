package schedule

import "github.com/google/uuid"

// remoteIDPrefix makes remote-derived record ids stable across refetches.
const remoteIDPrefix = "remote-"

// RecordIDForRemote derives the deterministic local id for a remote event.
func RecordIDForRemote(remoteID string) string {
	return remoteIDPrefix + remoteID
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers
// for locally authored records.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
