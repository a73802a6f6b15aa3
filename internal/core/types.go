package core

import "entitycore/pkg/entity"

// Aliases bridge the entity runtime's types into the session package so
// facade callers work against a single import.
type (
	Repository   = entity.Repository
	Item         = entity.Item
	Snapshot     = entity.Snapshot
	ListSnapshot = entity.ListSnapshot
	Message      = entity.Message
	Severity     = entity.Severity
)

const (
	SeverityError = entity.SeverityError
	SeverityWarn  = entity.SeverityWarn
	SeverityInfo  = entity.SeverityInfo
)

// Sentinels the save gates surface, re-exported so callers can match them
// without importing the entity package.
var (
	ErrChildSave = entity.ErrChildSave
	ErrBusy      = entity.ErrBusy
	ErrNotFound  = entity.ErrNotFound
)
