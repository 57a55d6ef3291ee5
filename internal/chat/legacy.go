package chat

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/suPer8Hu/sportlens/internal/localstore"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

// legacyID matches the timestamp-derived ids older clients generated,
// e.g. "1699999999999", "chat_1699999999999" or "chat-1699999999-a1b2".
var legacyID = regexp.MustCompile(`^(chat[-_])?\d{10,13}([-_][A-Za-z0-9]+)?$`)

const migrationDone = "done"

func IsLegacyID(id string) bool {
	return legacyID.MatchString(id)
}

type MigrationReport struct {
	Skipped bool              `json:"skipped"`
	Mapping map[string]string `json:"mapping"`
}

// MigrateLegacyIDs rewrites legacy chat ids to UUIDs, along with the keys
// of the legacy per-chat message map and the current-chat pointer. The
// completion flag is written last; once it is set the pass is a no-op.
// newID may be nil.
func MigrateLegacyIDs(store *localstore.Store, newID func() string, log *logger.Logger) (MigrationReport, error) {
	if newID == nil {
		newID = uuid.NewString
	}
	log = log.With("service", "ChatIDMigration")
	report := MigrationReport{Mapping: map[string]string{}}

	err := store.Atomically(func() error {
		if v, _ := store.GetString(localstore.KeyIDMigrationDone); v == migrationDone {
			report.Skipped = true
			return nil
		}

		stored := localstore.LoadAll[storedChat](store, localstore.KeyChats)
		orig := append([]storedChat(nil), stored...)
		for i := range stored {
			if !IsLegacyID(stored[i].ID) {
				continue
			}
			id := newID()
			report.Mapping[stored[i].ID] = id
			stored[i].ID = id
		}

		if len(report.Mapping) > 0 {
			n, err := localstore.SaveAll(store, localstore.KeyChats, stored, localstore.Notify)
			if err != nil {
				return fmt.Errorf("save migrated chats: %w", err)
			}
			if n < len(stored) {
				// longer ids pushed the collection over quota; put the original back
				if _, rerr := localstore.SaveAll(store, localstore.KeyChats, orig, localstore.Silent); rerr != nil {
					log.Error("failed to restore chats after partial migration", "error", rerr)
				}
				return fmt.Errorf("save migrated chats: only %d of %d records fit", n, len(stored))
			}
		}

		if err := rekeyLegacyMessages(store, report.Mapping); err != nil {
			return err
		}

		if cur, ok := store.GetString(localstore.KeyCurrentChat); ok {
			if id, mapped := report.Mapping[cur]; mapped {
				if err := store.SetString(localstore.KeyCurrentChat, id, localstore.Notify); err != nil {
					return fmt.Errorf("rewrite current chat: %w", err)
				}
			}
		}

		return store.SetString(localstore.KeyIDMigrationDone, migrationDone, localstore.Silent)
	})
	if err != nil {
		log.Error("chat id migration aborted, will retry", "error", err)
		return MigrationReport{}, err
	}
	if !report.Skipped {
		log.Info("chat id migration complete", "migrated", len(report.Mapping))
	}
	return report, nil
}

func rekeyLegacyMessages(store *localstore.Store, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	var byChat map[string]json.RawMessage
	ok, err := store.GetJSON(localstore.KeyLegacyMessages, &byChat)
	if err != nil {
		return fmt.Errorf("read legacy messages: %w", err)
	}
	if !ok || len(byChat) == 0 {
		return nil
	}

	changed := false
	for oldID, newID := range mapping {
		v, found := byChat[oldID]
		if !found {
			continue
		}
		byChat[newID] = v
		delete(byChat, oldID)
		changed = true
	}
	if !changed {
		return nil
	}
	if err := store.SetJSON(localstore.KeyLegacyMessages, byChat, localstore.Silent); err != nil {
		return fmt.Errorf("rewrite legacy messages: %w", err)
	}
	return nil
}
