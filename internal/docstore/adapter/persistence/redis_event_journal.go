package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/shared/eventbus"
	"habitora-core/internal/shared/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const journalKeyPrefix = "events:"

// defaultJournalLength caps each collection stream; reconnecting clients
// older than this window have to resubscribe from a fresh snapshot.
const defaultJournalLength = 10000

// RedisEventJournal persists change events in Redis Streams, one stream per
// collection path. Stream entry IDs double as resume tokens so a client can
// replay everything it missed after a reconnect.
type RedisEventJournal struct {
	client *redis.Client
	logger logger.Logger
	maxLen int64
}

func NewRedisEventJournal(client *redis.Client, log logger.Logger) *RedisEventJournal {
	return &RedisEventJournal{
		client: client,
		logger: log,
		maxLen: defaultJournalLength,
	}
}

// WithMaxLen overrides the per-stream cap. Zero or negative keeps the
// current value.
func (j *RedisEventJournal) WithMaxLen(maxLen int64) *RedisEventJournal {
	if maxLen > 0 {
		j.maxLen = maxLen
	}
	return j
}

var _ repository.EventJournal = (*RedisEventJournal)(nil)

// Append stores one event and returns its resume token.
func (j *RedisEventJournal) Append(ctx context.Context, event model.ChangeEvent) (string, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		j.logger.Error("Failed to serialize event data", zap.Error(err))
		return "", err
	}
	oldData, err := json.Marshal(event.OldData)
	if err != nil {
		j.logger.Error("Failed to serialize old event data", zap.Error(err))
		return "", err
	}

	stream := journalKeyPrefix + event.Collection
	id, err := j.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: j.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":       string(event.Type),
			"collection": event.Collection,
			"path":       event.Path,
			"documentId": event.DocumentID,
			"data":       data,
			"oldData":    oldData,
			"timestamp":  event.Timestamp.UnixNano(),
		},
	}).Result()
	if err != nil {
		j.logger.Error("Failed to append event to journal",
			zap.String("stream", stream),
			zap.String("eventType", string(event.Type)),
			zap.Error(err))
		return "", err
	}

	j.logger.Debug("Event journaled",
		zap.String("stream", stream),
		zap.String("resumeToken", id))
	return id, nil
}

// Replay returns events recorded after sinceToken. An empty token starts at
// the beginning of the stream. The returned token resumes from the last
// delivered event.
func (j *RedisEventJournal) Replay(ctx context.Context, collection, sinceToken string, limit int64) ([]model.ChangeEvent, string, error) {
	stream := journalKeyPrefix + collection

	start := "-"
	if sinceToken != "" {
		next, err := nextStreamID(sinceToken)
		if err != nil {
			return nil, "", err
		}
		start = next
	}

	if limit <= 0 {
		limit = j.maxLen
	}

	messages, err := j.client.XRangeN(ctx, stream, start, "+", limit).Result()
	if err != nil {
		j.logger.Error("Failed to replay journal",
			zap.String("stream", stream),
			zap.String("sinceToken", sinceToken),
			zap.Error(err))
		return nil, "", err
	}

	events := make([]model.ChangeEvent, 0, len(messages))
	nextToken := sinceToken
	for _, msg := range messages {
		event, err := parseJournalMessage(msg)
		if err != nil {
			j.logger.Warn("Skipping unparseable journal entry",
				zap.String("messageId", msg.ID),
				zap.Error(err))
			continue
		}
		events = append(events, event)
		nextToken = msg.ID
	}

	return events, nextToken, nil
}

// Trim caps a collection's stream length, dropping the oldest entries.
func (j *RedisEventJournal) Trim(ctx context.Context, collection string, maxLen int64) error {
	stream := journalKeyPrefix + collection
	trimmed, err := j.client.XTrimMaxLen(ctx, stream, maxLen).Result()
	if err != nil {
		j.logger.Error("Failed to trim journal",
			zap.String("stream", stream),
			zap.Error(err))
		return err
	}
	if trimmed > 0 {
		j.logger.Info("Trimmed journal stream",
			zap.String("stream", stream),
			zap.Int64("entriesRemoved", trimmed))
	}
	return nil
}

// Len returns the current stream length for a collection.
func (j *RedisEventJournal) Len(ctx context.Context, collection string) int64 {
	length, err := j.client.XLen(ctx, journalKeyPrefix+collection).Result()
	if err != nil {
		return 0
	}
	return length
}

func (j *RedisEventJournal) Close() error {
	return j.client.Close()
}

// AttachToBus journals every committed document change. Journaling is best
// effort: a Redis outage must not stall live delivery, so append failures
// are logged and swallowed.
func (j *RedisEventJournal) AttachToBus(bus eventbus.EventBusInterface) {
	handler := func(ctx context.Context, event eventbus.Event) error {
		change, ok := event.Data().(model.ChangeEvent)
		if !ok {
			return nil
		}
		if _, err := j.Append(ctx, change); err != nil {
			j.logger.Warn("Journal append failed, continuing",
				zap.String("path", change.Path),
				zap.Error(err))
		}
		return nil
	}

	bus.Subscribe(eventbus.EventTypeDocumentCreated, handler)
	bus.Subscribe(eventbus.EventTypeDocumentUpdated, handler)
	bus.Subscribe(eventbus.EventTypeDocumentDeleted, handler)
}

// nextStreamID computes the smallest stream ID strictly greater than the
// given one, for inclusive XRANGE reads that must exclude the token itself.
func nextStreamID(id string) (string, error) {
	parts := strings.SplitN(id, "-", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed resume token %q", id)
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed resume token %q: %w", id, err)
	}
	return fmt.Sprintf("%s-%d", parts[0], seq+1), nil
}

func parseJournalMessage(msg redis.XMessage) (model.ChangeEvent, error) {
	event := model.ChangeEvent{}

	typeStr, ok := msg.Values["type"].(string)
	if !ok {
		return event, fmt.Errorf("entry %s has no event type", msg.ID)
	}
	event.Type = model.EventType(typeStr)

	if collection, ok := msg.Values["collection"].(string); ok {
		event.Collection = collection
	}
	if path, ok := msg.Values["path"].(string); ok {
		event.Path = path
	}
	if documentID, ok := msg.Values["documentId"].(string); ok {
		event.DocumentID = documentID
	}
	if tsStr, ok := msg.Values["timestamp"].(string); ok {
		if ts, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			event.Timestamp = time.Unix(0, ts)
		}
	}
	if dataStr, ok := msg.Values["data"].(string); ok && dataStr != "" && dataStr != "null" {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(dataStr), &data); err == nil {
			event.Data = data
		}
	}
	if oldDataStr, ok := msg.Values["oldData"].(string); ok && oldDataStr != "" && oldDataStr != "null" {
		var oldData map[string]interface{}
		if err := json.Unmarshal([]byte(oldDataStr), &oldData); err == nil {
			event.OldData = oldData
		}
	}

	return event, nil
}
