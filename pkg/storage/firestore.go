package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jouleflow/jouleflow/pkg/log"
	"github.com/jouleflow/jouleflow/pkg/types"
)

// FirestoreProvider implements Database using Google Cloud Firestore. It
// persists the ledger, schedule, summary and settings under a per-run
// document so multiple controller runs can share a project.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	runID     string
}

// configuredFirestore sets up the Firestore provider. It registers flags for
// configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	runID := lflag.String("firestore-run-id", "default", "run document all data is stored under")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.runID = *runID

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.runID == "" {
		return fmt.Errorf("firestore-run-id is required")
	}
	return nil
}

// Init initializes the Firestore client. This must be called before using
// the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection("runs").Doc(f.runID).Collection(name)
}

// ledgerDocID orders entries lexicographically by tick, with the action as a
// tiebreaker since each action occurs at most once per tick.
func ledgerDocID(tick int, action types.Action) string {
	return fmt.Sprintf("%010d-%s", tick, action)
}

// InsertLedgerEntry adds a ledger record to the "ledger" collection as a
// JSON blob.
func (f *FirestoreProvider) InsertLedgerEntry(ctx context.Context, entry types.LedgerEntry) error {
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	_, err = f.collection("ledger").Doc(ledgerDocID(entry.Tick, entry.Action)).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
		"tick": entry.Tick,
	})
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// GetLedgerHistory retrieves ledger records for ticks in [startTick,
// endTick). Uses document ID range queries so only the requested range is
// read.
func (f *FirestoreProvider) GetLedgerHistory(ctx context.Context, startTick, endTick int) ([]types.LedgerEntry, error) {
	coll := f.collection("ledger")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(fmt.Sprintf("%010d", startTick))).
		Where(firestore.DocumentID, "<", coll.Doc(fmt.Sprintf("%010d", endTick))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var entries []types.LedgerEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating ledger: %w", err)
		}

		jsonStr, err := docJSON(ctx, doc)
		if err != nil {
			return nil, err
		}
		var e types.LedgerEntry
		if err := json.Unmarshal([]byte(jsonStr), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger entry (id=%s): %w", doc.Ref.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// InsertTickRecord adds the tick's audit row to the "history" collection.
// One row exists per tick so the zero-padded tick ID is the document ID.
func (f *FirestoreProvider) InsertTickRecord(ctx context.Context, rec types.TickRecord) error {
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal tick record: %w", err)
	}

	_, err = f.collection("history").Doc(fmt.Sprintf("%010d", rec.Tick)).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
		"tick": rec.Tick,
	})
	if err != nil {
		return fmt.Errorf("failed to insert tick record: %w", err)
	}
	return nil
}

// GetTickHistory retrieves audit rows for ticks in [startTick, endTick).
func (f *FirestoreProvider) GetTickHistory(ctx context.Context, startTick, endTick int) ([]types.TickRecord, error) {
	coll := f.collection("history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(fmt.Sprintf("%010d", startTick))).
		Where(firestore.DocumentID, "<", coll.Doc(fmt.Sprintf("%010d", endTick))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var rows []types.TickRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating history: %w", err)
		}

		jsonStr, err := docJSON(ctx, doc)
		if err != nil {
			return nil, err
		}
		var r types.TickRecord
		if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tick record (id=%s): %w", doc.Ref.ID, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// UpsertSchedule saves the full deferrable schedule to the "plan/schedule"
// document as a single JSON blob. The schedule is small and read whole.
func (f *FirestoreProvider) UpsertSchedule(ctx context.Context, slots []types.ScheduledSlot) error {
	jsonBytes, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	_, err = f.collection("plan").Doc("schedule").Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves the deferrable schedule; a missing document is an
// empty schedule, not an error.
func (f *FirestoreProvider) GetSchedule(ctx context.Context) ([]types.ScheduledSlot, error) {
	doc, err := f.collection("plan").Doc("schedule").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch schedule doc: %w", err)
	}
	jsonStr, err := docJSON(ctx, doc)
	if err != nil {
		return nil, err
	}
	var slots []types.ScheduledSlot
	if err := json.Unmarshal([]byte(jsonStr), &slots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return slots, nil
}

// PutSummary saves the running totals to the "plan/summary" document.
func (f *FirestoreProvider) PutSummary(ctx context.Context, sum types.Summary) error {
	jsonBytes, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	_, err = f.collection("plan").Doc("summary").Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// GetSummary retrieves the last stored summary; missing means a fresh run.
func (f *FirestoreProvider) GetSummary(ctx context.Context) (types.Summary, error) {
	doc, err := f.collection("plan").Doc("summary").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Summary{}, nil
		}
		return types.Summary{}, fmt.Errorf("failed to fetch summary doc: %w", err)
	}
	jsonStr, err := docJSON(ctx, doc)
	if err != nil {
		return types.Summary{}, err
	}
	var sum types.Summary
	if err := json.Unmarshal([]byte(jsonStr), &sum); err != nil {
		return types.Summary{}, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return sum, nil
}

// GetSettings retrieves the tunables from the "config/settings" document.
// Missing means no stored overrides; callers fall back to defaults.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	jsonStr, err := docJSON(ctx, doc)
	if err != nil {
		return types.Settings{}, 0, err
	}
	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the tunables to the "config/settings" document. It
// stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = f.collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// docJSON pulls the "json" string field out of a document.
func docJSON(ctx context.Context, doc *firestore.DocumentSnapshot) (string, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return "", fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return "", fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	return jsonStr, nil
}
