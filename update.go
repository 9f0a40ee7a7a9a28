package p4bridge

// Operation is the kind of a write update.
type Operation uint8

const (
	OpUnspecified Operation = iota
	OpInsert
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNSPECIFIED"
	}
}

// Entity is the target of an update or a read query. It is one of
// *TableEntry, *MulticastGroup or *UnsupportedEntity.
type Entity interface {
	isEntity()
}

// UnsupportedEntity stands in for entity kinds the bridge does not
// model, such as counters, meters or clone sessions.
type UnsupportedEntity struct {
	Kind string
}

func (*UnsupportedEntity) isEntity() {}

// Update is one operation of a write request.
type Update struct {
	Op     Operation
	Entity Entity
}
