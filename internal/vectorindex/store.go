package vectorindex

import (
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	vectorFileName = "vectors.gob"
	idMapFileName  = "idmap.db"
	formatVersion  = 1
)

var (
	bucketSlots = []byte("slots")
	bucketMeta  = []byte("meta")

	keyGeneration = []byte("generation")
	keyCount      = []byte("count")
	keyDimension  = []byte("dimension")
	keyModel      = []byte("model")
)

// snapshot is the full persisted state of an index.
type snapshot struct {
	Generation uint64
	Dimension  int
	Model      string
	Data       []float64
	IDs        []int64
}

type persister interface {
	save(snap snapshot, from int) error
	load() (*snapshot, error)
	close() error
}

type vectorFile struct {
	Version    int
	Generation uint64
	Dimension  int
	Count      int
	Model      string
	Data       []float64
}

// diskStore keeps vectors in a gob file and the slot map in bbolt.
type diskStore struct {
	dir string
	db  *bolt.DB
}

func openDiskStore(dir string) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, idMapFileName), 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open id map: %w", err)
	}
	return &diskStore{dir: dir, db: db}, nil
}

func (s *diskStore) vectorPath() string {
	return filepath.Join(s.dir, vectorFileName)
}

// save writes the vector file first and the slot map second. Slots below
// from are assumed to be on disk already.
func (s *diskStore) save(snap snapshot, from int) error {
	if err := s.writeVectors(snap); err != nil {
		return err
	}
	return s.writeIDMap(snap, from)
}

func (s *diskStore) writeVectors(snap snapshot) error {
	tmp, err := os.CreateTemp(s.dir, "vectors-*.tmp")
	if err != nil {
		return fmt.Errorf("create vector file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	vf := vectorFile{
		Version:    formatVersion,
		Generation: snap.Generation,
		Dimension:  snap.Dimension,
		Count:      len(snap.IDs),
		Model:      snap.Model,
		Data:       snap.Data,
	}
	if err := gob.NewEncoder(tmp).Encode(&vf); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode vector file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync vector file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close vector file: %w", err)
	}
	if err := os.Rename(tmpName, s.vectorPath()); err != nil {
		return fmt.Errorf("replace vector file: %w", err)
	}
	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (s *diskStore) writeIDMap(snap snapshot, from int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if from <= 0 {
			if err := tx.DeleteBucket(bucketSlots); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			from = 0
		}
		slots, err := tx.CreateBucketIfNotExists(bucketSlots)
		if err != nil {
			return err
		}
		for slot := from; slot < len(snap.IDs); slot++ {
			if err := slots.Put(encodeUint(uint64(slot)), encodeUint(uint64(snap.IDs[slot]))); err != nil {
				return err
			}
		}
		// drop slots past the end, left behind by a rolled back append
		c := slots.Cursor()
		for k, _ := c.Seek(encodeUint(uint64(len(snap.IDs)))); k != nil; k, _ = c.Seek(encodeUint(uint64(len(snap.IDs)))) {
			if err := slots.Delete(k); err != nil {
				return err
			}
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if err := meta.Put(keyGeneration, encodeUint(snap.Generation)); err != nil {
			return err
		}
		if err := meta.Put(keyCount, encodeUint(uint64(len(snap.IDs)))); err != nil {
			return err
		}
		if err := meta.Put(keyDimension, encodeUint(uint64(snap.Dimension))); err != nil {
			return err
		}
		return meta.Put(keyModel, []byte(snap.Model))
	})
}

type idMapState struct {
	present    bool
	generation uint64
	count      int
	dimension  int
	ids        []int64
}

// load returns nil when neither artifact exists.
func (s *diskStore) load() (*snapshot, error) {
	vf, err := s.readVectors()
	if err != nil {
		return nil, err
	}
	m, err := s.readIDMap()
	if err != nil {
		return nil, err
	}
	switch {
	case vf == nil && !m.present:
		return nil, nil
	case vf == nil:
		return nil, corruption("vector file missing while id map exists")
	case !m.present:
		return nil, corruption("id map missing while vector file exists")
	}
	if vf.Version != formatVersion {
		return nil, corruption(fmt.Sprintf("unsupported vector file version %d", vf.Version))
	}
	if vf.Generation != m.generation {
		return nil, corruption(fmt.Sprintf("generation mismatch: vectors=%d id map=%d", vf.Generation, m.generation))
	}
	if vf.Dimension < 0 || len(vf.Data) != vf.Count*vf.Dimension {
		return nil, corruption(fmt.Sprintf("vector file holds %d values for %d x %d", len(vf.Data), vf.Count, vf.Dimension))
	}
	if vf.Count != m.count || m.count != len(m.ids) {
		return nil, corruption(fmt.Sprintf("count mismatch: vectors=%d id map=%d slots=%d", vf.Count, m.count, len(m.ids)))
	}
	if vf.Dimension != m.dimension {
		return nil, corruption(fmt.Sprintf("dimension mismatch: vectors=%d id map=%d", vf.Dimension, m.dimension))
	}
	return &snapshot{
		Generation: vf.Generation,
		Dimension:  vf.Dimension,
		Model:      vf.Model,
		Data:       vf.Data,
		IDs:        m.ids,
	}, nil
}

func (s *diskStore) readVectors() (*vectorFile, error) {
	f, err := os.Open(s.vectorPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open vector file: %w", err)
	}
	defer f.Close()
	var vf vectorFile
	if err := gob.NewDecoder(f).Decode(&vf); err != nil {
		return nil, corruption(fmt.Sprintf("decode vector file: %v", err))
	}
	return &vf, nil
}

func (s *diskStore) readIDMap() (idMapState, error) {
	var st idMapState
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil || meta.Get(keyGeneration) == nil {
			return nil
		}
		st.present = true
		gen, err := decodeUint(meta.Get(keyGeneration))
		if err != nil {
			return err
		}
		count, err := decodeUint(meta.Get(keyCount))
		if err != nil {
			return err
		}
		dim, err := decodeUint(meta.Get(keyDimension))
		if err != nil {
			return err
		}
		st.generation = gen
		st.count = int(count)
		st.dimension = int(dim)

		slots := tx.Bucket(bucketSlots)
		if slots == nil {
			return nil
		}
		seen := make(map[int64]struct{}, st.count)
		expected := uint64(0)
		return slots.ForEach(func(k, v []byte) error {
			slot, err := decodeUint(k)
			if err != nil {
				return err
			}
			if slot != expected {
				return corruption(fmt.Sprintf("id map is not dense at slot %d", expected))
			}
			raw, err := decodeUint(v)
			if err != nil {
				return err
			}
			id := int64(raw)
			if _, dup := seen[id]; dup {
				return corruption(fmt.Sprintf("chunk id %d mapped twice", id))
			}
			seen[id] = struct{}{}
			st.ids = append(st.ids, id)
			expected++
			return nil
		})
	})
	if err != nil {
		var ce *CorruptionError
		if errors.As(err, &ce) {
			return st, err
		}
		return st, corruption(fmt.Sprintf("read id map: %v", err))
	}
	return st, nil
}

func (s *diskStore) close() error {
	return s.db.Close()
}

func encodeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
