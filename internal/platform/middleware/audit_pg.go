package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// auditWriteTimeout bounds the insert so a slow database cannot hold the
// response open.
const auditWriteTimeout = 3 * time.Second

type auditExecer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PHIAccessLogPG stores audit entries in the phi_access_log table.
type PHIAccessLogPG struct {
	conn auditExecer
}

func NewPHIAccessLogPG(pool *pgxpool.Pool) *PHIAccessLogPG {
	return &PHIAccessLogPG{conn: pool}
}

func (l *PHIAccessLogPG) RecordAccess(ctx context.Context, entry AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	_, err := l.conn.Exec(ctx, `
		INSERT INTO phi_access_log (request_id, user_id, role, resource, patient_id,
			action, method, path, ip_address, user_agent, status_code, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		nullString(entry.RequestID), nullUUID(entry.UserID), nullString(entry.Role),
		entry.Resource, nullUUID(entry.PatientID), entry.Action, entry.Method, entry.Path,
		nullString(entry.IPAddress), nullString(entry.UserAgent), entry.StatusCode, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert phi access log: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID drops values that are not UUIDs, such as "dashboard" in
// /api/patients/dashboard.
func nullUUID(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
