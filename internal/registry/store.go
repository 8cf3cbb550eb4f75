package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/certcodec"
	"github.com/SimplyPrint/sign-agent/internal/core"
)

// Store persists registry buckets across restarts.
type Store interface {
	Load(ctx context.Context) ([]SCInfo, error)
	Save(ctx context.Context, buckets []SCInfo) error
	Close() error
}

const keySCInfoPrefix = "scinfo/"

func scinfoKey(atr string) []byte {
	return []byte(keySCInfoPrefix + atr)
}

// Persisted record layout. Integer keys keep the encoding compact and stable
// across field renames.
type bucketRecord struct {
	ATR   string       `cbor:"1,keyasint"`
	Infos []infoRecord `cbor:"2,keyasint"`
}

type infoRecord struct {
	API           string               `cbor:"1,keyasint"`
	Param         string               `cbor:"2,keyasint"`
	Environment   core.EnvironmentInfo `cbor:"3,keyasint"`
	TerminalLabel string               `cbor:"4,keyasint,omitempty"`
	KeyAlias      string               `cbor:"5,keyasint,omitempty"`
	Digests       []string             `cbor:"6,keyasint,omitempty"`
	Chain         []byte               `cbor:"7,keyasint,omitempty"` // certcodec chain blob
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder: %v", err))
	}
}

func encodeBucket(s SCInfo) ([]byte, error) {
	rec := bucketRecord{ATR: s.ATR, Infos: make([]infoRecord, 0, len(s.infos))}
	for _, info := range s.infos {
		r := infoRecord{
			API:           string(info.SelectedAPI),
			Param:         info.APIParam,
			Environment:   info.Environment,
			TerminalLabel: info.TerminalLabel,
			KeyAlias:      info.KeyAlias,
		}
		for _, d := range info.SupportedDigests {
			r.Digests = append(r.Digests, string(d))
		}
		if !info.CertificateChain.Empty() {
			blob, err := info.CertificateChain.DER()
			if err != nil {
				return nil, apperr.Wrap(err, apperr.KindEncoding, "registry.encode_chain", s.ATR)
			}
			r.Chain = blob
		}
		rec.Infos = append(rec.Infos, r)
	}
	b, err := encMode.Marshal(rec)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindEncoding, "registry.encode_bucket", s.ATR)
	}
	return b, nil
}

func decodeBucket(b []byte) (SCInfo, error) {
	var rec bucketRecord
	if err := decMode.Unmarshal(b, &rec); err != nil {
		return SCInfo{}, apperr.Wrap(err, apperr.KindDecoding, "registry.decode_bucket")
	}
	s := SCInfo{ATR: rec.ATR}
	for _, r := range rec.Infos {
		info := core.ConnectionInfo{
			SelectedAPI:   core.ScAPI(r.API),
			APIParam:      r.Param,
			Environment:   r.Environment,
			TerminalLabel: r.TerminalLabel,
			KeyAlias:      r.KeyAlias,
		}
		for _, d := range r.Digests {
			info.AddDigest(core.DigestAlgorithm(d))
		}
		if len(r.Chain) > 0 {
			chain, err := certcodec.ChainFromDER(r.Chain)
			if err != nil {
				return SCInfo{}, apperr.Wrap(err, apperr.KindDecoding, "registry.decode_chain", rec.ATR)
			}
			info.CertificateChain = chain
		}
		s.add(info)
	}
	return s, nil
}

// BadgerStore keeps one key per ATR bucket in a badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the store under dataDir. An empty dataDir
// opens an in-memory database.
func OpenBadgerStore(dataDir string) (*BadgerStore, error) {
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(dataDir, "registry"))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "registry.open_store", dataDir)
	}
	return &BadgerStore{db: db}, nil
}

// Load reads every persisted bucket.
func (s *BadgerStore) Load(ctx context.Context) ([]SCInfo, error) {
	buckets := make([]SCInfo, 0, 8)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keySCInfoPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				bucket, err := decodeBucket(val)
				if err != nil {
					return err
				}
				if bucket.ATR == "" {
					bucket.ATR = strings.TrimPrefix(string(item.Key()), keySCInfoPrefix)
				}
				buckets = append(buckets, bucket)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

// Save writes every bucket in one transaction.
func (s *BadgerStore) Save(ctx context.Context, buckets []SCInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, b := range buckets {
			val, err := encodeBucket(b)
			if err != nil {
				return err
			}
			if err := txn.Set(scinfoKey(b.ATR), val); err != nil {
				if errors.Is(err, badger.ErrTxnTooBig) {
					return apperr.Wrap(err, apperr.KindInternal, "registry.save_too_large", len(buckets))
				}
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
