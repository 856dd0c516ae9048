package buildindex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/birdayz/assetforge/compiler"
	"github.com/birdayz/assetforge/pathid"
)

// Key prefixes. Entries and discovered runtime references live in separate
// keyspaces so references can seed the next build without ever affecting the
// staleness of the pass that produced them.
const (
	entryPrefix = "entry/"
	refsPrefix  = "refs/"
	versionKey  = "meta/version"
)

// SourceHash is a stable 64-bit hash of a node's direct source content (and,
// for source nodes, its declared dependencies' content).
type SourceHash uint64

func (h SourceHash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Entry records the result of one node's last successful compilation.
// Entries are replaced wholesale on recompilation, never patched field by
// field.
type Entry struct {
	PathID           pathid.ResourcePathID       `json:"path_id"`
	SourceHash       SourceHash                  `json:"source_hash"`
	CompilerHash     compiler.Hash               `json:"compiler_hash"`
	Dependencies     []pathid.ResourcePathID     `json:"dependencies"`
	CompiledManifest []compiler.CompiledResource `json:"compiled_manifest"`
}

// Index is the persisted incremental build index.
//
// Reads are concurrent; entry writes are serialized by a single-writer mutex
// so racing node completions cannot produce lost updates. Missing or
// unparsable entries degrade to "not built"; structural violations are fatal
// and never auto-repaired.
type Index struct {
	store Store
	log   *slog.Logger

	writeMu sync.Mutex
}

// Open creates an index over store. If the persisted layout version differs
// from buildVersion the whole index is reset: a new build version
// invalidates all prior entries by definition.
func Open(store Store, buildVersion string, log *slog.Logger) (*Index, error) {
	idx := &Index{store: store, log: log}

	stored, err := store.Get([]byte(versionKey))
	switch {
	case errors.Is(err, ErrKeyNotFound):
		// Fresh index.
	case err != nil:
		return nil, fmt.Errorf("failed to read index version: %w", err)
	case string(stored) == buildVersion:
		return idx, nil
	default:
		log.Info("Build version changed, resetting index",
			"stored", string(stored), "current", buildVersion)
		if err := idx.Reset(); err != nil {
			return nil, err
		}
	}

	if err := store.Set([]byte(versionKey), []byte(buildVersion)); err != nil {
		return nil, fmt.Errorf("failed to write index version: %w", err)
	}
	return idx, nil
}

func entryKey(path pathid.ResourcePathID) []byte {
	return []byte(entryPrefix + path.String())
}

func refsKey(path pathid.ResourcePathID) []byte {
	return []byte(refsPrefix + path.String())
}

// Get returns the entry for path. ok is false when the node has no usable
// entry; an entry that exists but cannot be parsed is treated as absent, not
// as corruption of the whole index.
func (i *Index) Get(path pathid.ResourcePathID) (Entry, bool, error) {
	data, err := i.store.Get(entryKey(path))
	if errors.Is(err, ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read index entry %s: %w", path, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		i.log.Warn("Dropping unparsable index entry", "path", path.String(), "error", err)
		return Entry{}, false, nil
	}

	// A parsable entry recorded under the wrong key violates the index
	// structure itself.
	if !entry.PathID.Equal(path) {
		return Entry{}, false, fmt.Errorf("%w: entry for %s recorded under %s",
			ErrCorruptedIndex, entry.PathID, path)
	}
	return entry, true, nil
}

// Put replaces the entry for entry.PathID as a whole record.
func (i *Index) Put(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode index entry %s: %w", entry.PathID, err)
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := i.store.Set(entryKey(entry.PathID), data); err != nil {
		return fmt.Errorf("failed to write index entry %s: %w", entry.PathID, err)
	}
	return nil
}

// Delete removes the entry for path. Used when a node's outputs are found
// missing from the content store.
func (i *Index) Delete(path pathid.ResourcePathID) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	return i.store.Delete(entryKey(path))
}

// PutReferences records runtime references discovered while compiling path.
// They seed future builds' graphs and are never consulted for the staleness
// of path itself.
func (i *Index) PutReferences(path pathid.ResourcePathID, refs []compiler.ResourceReference) error {
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("failed to encode references for %s: %w", path, err)
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := i.store.Set(refsKey(path), data); err != nil {
		return fmt.Errorf("failed to write references for %s: %w", path, err)
	}
	return nil
}

// References returns the runtime references recorded for path by an earlier
// build, if any.
func (i *Index) References(path pathid.ResourcePathID) ([]compiler.ResourceReference, error) {
	data, err := i.store.Get(refsKey(path))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read references for %s: %w", path, err)
	}

	var refs []compiler.ResourceReference
	if err := json.Unmarshal(data, &refs); err != nil {
		i.log.Warn("Dropping unparsable reference set", "path", path.String(), "error", err)
		return nil, nil
	}
	return refs, nil
}

// Entries returns every parsable entry, in key order. Unparsable entries are
// skipped.
func (i *Index) Entries() ([]Entry, error) {
	it, err := i.store.All()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []Entry
	for it.Next() {
		if !bytes.HasPrefix(it.Key(), []byte(entryPrefix)) {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(it.Value(), &entry); err != nil {
			i.log.Warn("Dropping unparsable index entry", "key", string(it.Key()), "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Reset deletes every entry and reference. This is the only way records are
// ever removed wholesale.
func (i *Index) Reset() error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	it, err := i.store.All()
	if err != nil {
		return err
	}

	var keys [][]byte
	for it.Next() {
		key := it.Key()
		if strings.HasPrefix(string(key), entryPrefix) || strings.HasPrefix(string(key), refsPrefix) {
			keys = append(keys, key)
		}
	}
	if err := it.Err(); err != nil {
		it.Close()
		return err
	}
	if err := it.Close(); err != nil {
		return err
	}

	for _, key := range keys {
		if err := i.store.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Flush persists pending writes to the backing store.
func (i *Index) Flush() error {
	return i.store.Flush()
}

// Close flushes and closes the backing store.
func (i *Index) Close() error {
	return i.store.Close()
}
