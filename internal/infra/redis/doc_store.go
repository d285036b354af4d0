package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"duet-quiz-service/internal/app"
	"duet-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionDocuments stores sessions in Redis with additive-merge semantics.
// Key layout per session:
//
//	session:{id}                 hash: record (immutable snapshot), currentIndex, completed, completedAt
//	session:{id}:responses       hash: responseID -> response JSON (HSETNX, write-once)
//	session:{id}:order           zset: responseID scored by arrival sequence (ZADD NX)
//	session:active:{user}:{exp}  SETNX guard: holds the active session ID until completion
//	sessions:{user}:{exp}        set of session IDs for lookup
//
// The zset score comes from an INCR'd per-session counter, so responses read
// back in the order they were first written; replaying a write is a no-op.
type SessionDocuments struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionDocuments builds the store. A zero ttl keeps sessions forever;
// retention is otherwise the store's concern, not this service's.
func NewSessionDocuments(client *redis.Client, ttl time.Duration) *SessionDocuments {
	return &SessionDocuments{client: client, ttl: ttl}
}

// sessionRecord is the immutable part snapshotted at creation.
type sessionRecord struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	Experience        domain.Experience `json:"experience"`
	SelectedQuestions []domain.Question `json:"selectedQuestions"`
	StartedAt         time.Time         `json:"startedAt"`
}

func (d *SessionDocuments) QuerySessions(ctx context.Context, userID string, experience domain.Experience) ([]domain.Session, error) {
	ids, err := d.client.SMembers(ctx, d.indexKey(userID, experience)).Result()
	if err != nil {
		return nil, fmt.Errorf("query session index: %w", err)
	}
	sessions := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		session, ok, err := d.loadSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func (d *SessionDocuments) CreateSession(ctx context.Context, session domain.Session) error {
	record, err := json.Marshal(sessionRecord{
		ID:                session.ID,
		UserID:            session.UserID,
		Experience:        session.Experience,
		SelectedQuestions: session.SelectedQuestions,
		StartedAt:         session.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	// SETNX guard against a simultaneous create from another instance; the
	// in-process dedup cannot see those.
	held, err := d.client.SetNX(ctx, d.activeKey(session.UserID, session.Experience), session.ID, d.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire session guard: %w", err)
	}
	if !held {
		return fmt.Errorf("%w: user %s, experience %s", domain.ErrSessionConflict, session.UserID, session.Experience)
	}

	key := d.sessionKey(session.ID)
	pipe := d.client.Pipeline()
	pipe.HSet(ctx, key, "record", record, "currentIndex", session.CurrentIndex, "completed", boolField(session.Completed))
	pipe.SAdd(ctx, d.indexKey(session.UserID, session.Experience), session.ID)
	if d.ttl > 0 {
		pipe.Expire(ctx, key, d.ttl)
		pipe.Expire(ctx, d.indexKey(session.UserID, session.Experience), d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (d *SessionDocuments) MergeSession(ctx context.Context, sessionID string, patch app.SessionPatch) error {
	key := d.sessionKey(sessionID)
	exists, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("merge session: %w", err)
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}

	for _, resp := range patch.Responses {
		payload, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal response %s: %w", resp.ID, err)
		}
		seq, err := d.client.Incr(ctx, d.seqKey(sessionID)).Result()
		if err != nil {
			return fmt.Errorf("merge response %s: %w", resp.ID, err)
		}
		pipe := d.client.Pipeline()
		// NX on both keeps a replayed response out of the stored sequence.
		pipe.ZAddNX(ctx, d.orderKey(sessionID), redis.Z{Score: float64(seq), Member: resp.ID})
		pipe.HSetNX(ctx, d.responsesKey(sessionID), resp.ID, payload)
		if d.ttl > 0 {
			pipe.Expire(ctx, d.orderKey(sessionID), d.ttl)
			pipe.Expire(ctx, d.responsesKey(sessionID), d.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("merge response %s: %w", resp.ID, err)
		}
	}

	fields := make([]interface{}, 0, 6)
	if patch.CurrentIndex != nil {
		fields = append(fields, "currentIndex", *patch.CurrentIndex)
	}
	if patch.Completed != nil {
		fields = append(fields, "completed", boolField(*patch.Completed))
	}
	if patch.CompletedAt != nil {
		fields = append(fields, "completedAt", patch.CompletedAt.Format(time.RFC3339Nano))
	}
	if len(fields) > 0 {
		if err := d.client.HSet(ctx, key, fields...).Err(); err != nil {
			return fmt.Errorf("merge session fields: %w", err)
		}
	}

	if patch.Completed != nil && *patch.Completed {
		d.releaseGuard(ctx, sessionID)
	}
	return nil
}

// releaseGuard frees the user's active-session slot once the session it was
// acquired for completes. A guard held by a different session is left alone.
func (d *SessionDocuments) releaseGuard(ctx context.Context, sessionID string) {
	raw, err := d.client.HGet(ctx, d.sessionKey(sessionID), "record").Result()
	if err != nil {
		return
	}
	var record sessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return
	}
	guard := d.activeKey(record.UserID, record.Experience)
	if holder, err := d.client.Get(ctx, guard).Result(); err == nil && holder == sessionID {
		_ = d.client.Del(ctx, guard).Err()
	}
}

func (d *SessionDocuments) loadSession(ctx context.Context, sessionID string) (domain.Session, bool, error) {
	raw, err := d.client.HGetAll(ctx, d.sessionKey(sessionID)).Result()
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if len(raw) == 0 {
		return domain.Session{}, false, nil
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(raw["record"]), &record); err != nil {
		return domain.Session{}, false, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	session := domain.Session{
		ID:                record.ID,
		UserID:            record.UserID,
		Experience:        record.Experience,
		SelectedQuestions: record.SelectedQuestions,
		StartedAt:         record.StartedAt,
		Completed:         raw["completed"] == "1",
	}
	if v, err := strconv.Atoi(raw["currentIndex"]); err == nil {
		session.CurrentIndex = v
	}
	if at, err := time.Parse(time.RFC3339Nano, raw["completedAt"]); err == nil {
		session.CompletedAt = &at
	}

	ids, err := d.client.ZRange(ctx, d.orderKey(sessionID), 0, -1).Result()
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load response order %s: %w", sessionID, err)
	}
	if len(ids) > 0 {
		payloads, err := d.client.HMGet(ctx, d.responsesKey(sessionID), ids...).Result()
		if err != nil {
			return domain.Session{}, false, fmt.Errorf("load responses %s: %w", sessionID, err)
		}
		for _, payload := range payloads {
			text, ok := payload.(string)
			if !ok {
				continue
			}
			var resp domain.Response
			if err := json.Unmarshal([]byte(text), &resp); err != nil {
				return domain.Session{}, false, fmt.Errorf("unmarshal response: %w", err)
			}
			session.Responses = append(session.Responses, resp)
		}
	}
	return session, true, nil
}

func (d *SessionDocuments) sessionKey(id string) string { return "session:" + id }
func (d *SessionDocuments) responsesKey(id string) string {
	return "session:" + id + ":responses"
}
func (d *SessionDocuments) orderKey(id string) string { return "session:" + id + ":order" }
func (d *SessionDocuments) seqKey(id string) string   { return "session:" + id + ":seq" }
func (d *SessionDocuments) indexKey(userID string, experience domain.Experience) string {
	return "sessions:" + userID + ":" + string(experience)
}
func (d *SessionDocuments) activeKey(userID string, experience domain.Experience) string {
	return "session:active:" + userID + ":" + string(experience)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
