package ir

import "golang.org/x/text/unicode/norm"

// NewEntityKey is the group key suffix used for actions with no entity id.
const NewEntityKey = "new"

// EntityKey identifies the group an action belongs to: "<type>:<id|new>".
//
// Both parts are NFC-normalized so ids typed with combining marks and ids
// typed precomposed fall into the same group.
func EntityKey(entityType, entityID string) string {
	if entityID == "" {
		entityID = NewEntityKey
	}
	return norm.NFC.String(entityType) + ":" + norm.NFC.String(entityID)
}

// Key returns the entity key of a.
//
// A CREATE has no entity id, but when its payload carries a client-assigned
// "id" that id is used, so the CREATE groups with later changes to the same
// record.
func (a Action) Key() string {
	id := a.EntityID
	if id == "" && a.Kind == KindCreate {
		id, _ = a.Payload.String("id")
	}
	return EntityKey(a.EntityType, id)
}
