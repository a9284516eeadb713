package engine

import (
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelStore/src/bufferpool"
	"github.com/Blackdeer1524/RelStore/src/cfg"
	"github.com/Blackdeer1524/RelStore/src/pkg/assert"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/recovery"
	"github.com/Blackdeer1524/RelStore/src/storage/disk"
	"github.com/Blackdeer1524/RelStore/src/storage/index"
	"github.com/Blackdeer1524/RelStore/src/storage/page"
	"github.com/Blackdeer1524/RelStore/src/txns"
)

// Engine wires the storage core together: disk manager, buffer pool,
// lock manager, log manager and transaction manager, plus the header
// page bootstrap and crash recovery on open.
type Engine struct {
	config cfg.EngineConfig
	fs     afero.Fs

	diskManager *disk.Manager
	pool        *bufferpool.Manager
	logManager  *recovery.LogManager
	lockManager *txns.LockManager
	txnManager  *txns.TransactionManager

	instanceID uuid.UUID

	log *zap.SugaredLogger
}

func Open(config cfg.EngineConfig, fs afero.Fs, log *zap.SugaredLogger) (*Engine, error) {
	diskManager, err := disk.New(fs, config.DataDir, config.DatabaseName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database files")
	}

	logManager := recovery.NewLogManager(diskManager, config.LogFlushTimeout, log)
	pool := bufferpool.New(config.PoolSize, diskManager, logManager, log)

	e := &Engine{
		config:      config,
		fs:          fs,
		diskManager: diskManager,
		pool:        pool,
		logManager:  logManager,
		lockManager: txns.NewLockManager(config.StrictTwoPhase),
		log:         log,
	}
	e.txnManager = txns.NewTransactionManager(e.lockManager, logManager, pool, log)

	if err := e.bootstrap(); err != nil {
		_ = diskManager.Close()
		return nil, err
	}

	if err := e.recover(); err != nil {
		_ = diskManager.Close()
		return nil, err
	}

	logManager.RunFlushThread()

	return e, nil
}

// bootstrap creates the header page on a fresh database and stamps it
// with the instance id; on an existing one it reads the id back.
func (e *Engine) bootstrap() error {
	if e.diskManager.NumPages() == 0 {
		p, err := e.pool.NewPage()
		if err != nil {
			return errors.Wrap(err, "failed to allocate the header page")
		}
		assert.Assert(p.ID() == common.HeaderPageID,
			"the header page must be page 0, got %d", p.ID())

		e.instanceID = uuid.New()
		header := page.AsHeaderPage(p)
		header.Init(e.instanceID)

		e.pool.UnpinPage(common.HeaderPageID, true)
		if err := e.pool.FlushPage(common.HeaderPageID); err != nil {
			return err
		}

		if e.log != nil {
			e.log.Infow("bootstrapped database",
				"name", e.config.DatabaseName,
				"instanceID", e.instanceID,
			)
		}
		return nil
	}

	p, err := e.pool.FetchPage(common.HeaderPageID)
	if err != nil {
		return errors.Wrap(err, "failed to read the header page")
	}
	e.instanceID = page.AsHeaderPage(p).InstanceID()
	e.pool.UnpinPage(common.HeaderPageID, false)

	return nil
}

// recover replays the write-ahead log before logging is enabled.
func (e *Engine) recover() error {
	assert.Assert(!e.logManager.Enabled(), "recovery must run before logging starts")

	if e.diskManager.LogSize() == 0 {
		return nil
	}

	r := recovery.NewLogRecovery(e.diskManager, e.pool, e.log)
	if err := r.Redo(); err != nil {
		return errors.Wrap(err, "redo pass failed")
	}
	if err := r.Undo(); err != nil {
		return errors.Wrap(err, "undo pass failed")
	}

	if err := e.pool.FlushAllPages(); err != nil {
		return err
	}
	e.logManager.SetNextLSN(r.MaxLSN() + 1)

	if e.log != nil {
		e.log.Infow("recovery finished", "maxLSN", r.MaxLSN())
	}

	return nil
}

func (e *Engine) Close() error {
	e.logManager.StopFlushThread()

	if err := e.pool.FlushAllPages(); err != nil {
		return err
	}

	return e.diskManager.Close()
}

func (e *Engine) Pool() *bufferpool.Manager {
	return e.pool
}

func (e *Engine) DiskManager() *disk.Manager {
	return e.diskManager
}

func (e *Engine) LogManager() *recovery.LogManager {
	return e.logManager
}

func (e *Engine) LockManager() *txns.LockManager {
	return e.lockManager
}

func (e *Engine) TxnManager() *txns.TransactionManager {
	return e.txnManager
}

func (e *Engine) InstanceID() uuid.UUID {
	return e.instanceID
}

// OpenInt64Index opens (or lazily creates on first insert) a B+ tree
// over int64 keys under the given name.
func (e *Engine) OpenInt64Index(name string) (*index.BPlusTree[int64], error) {
	return index.NewBPlusTree[int64](name, e.pool, index.Int64Codec{}, index.Int64Compare)
}

// ListIndexes reads the header page directory.
func (e *Engine) ListIndexes() ([]page.NamedRoot, error) {
	p, err := e.pool.FetchPage(common.HeaderPageID)
	if err != nil {
		return nil, err
	}

	p.RLock()
	records := page.AsHeaderPage(p).NamedRoots()
	p.RUnlock()
	e.pool.UnpinPage(common.HeaderPageID, false)

	return records, nil
}
