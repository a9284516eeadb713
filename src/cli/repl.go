package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/RelStore/src/engine"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/index"
)

const bulkWorkers = 4

// Repl is the single-letter test and debug shell over one named index:
//
//	i <k>  insert    a <k>  delete     g <k>  get
//	f <f>  bulk insert from file       d <f>  bulk delete from file
//	r <k>  range scan from k           t      dump tree
//	l      list indexes                q      quit
type Repl struct {
	engine *engine.Engine
	index  *index.BPlusTree[int64]
	out    io.Writer
}

func NewRepl(e *engine.Engine, indexName string) (*Repl, error) {
	idx, err := e.OpenInt64Index(indexName)
	if err != nil {
		return nil, err
	}

	return &Repl{
		engine: e,
		index:  idx,
		out:    os.Stdout,
	}, nil
}

// ridForKey derives a deterministic record id from the key; the shell
// has no table heap behind it.
func ridForKey(key int64) common.RID {
	return common.RID{
		PageID:  common.PageID(key >> 16),
		SlotNum: int32(key & 0xFFFF),
	}
}

func (r *Repl) Run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("> ")
		if err == io.EOF || err == liner.ErrPromptAborted {
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := r.dispatch(input)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *Repl) dispatch(input string) (quit bool, err error) {
	fields := strings.Fields(input)
	cmd := fields[0]

	arg := func() (string, error) {
		if len(fields) < 2 {
			return "", errors.Errorf("command %q needs an argument", cmd)
		}
		return fields[1], nil
	}
	intArg := func() (int64, error) {
		s, err := arg()
		if err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 10, 64)
	}

	switch cmd {
	case "q":
		return true, nil
	case "i":
		key, err := intArg()
		if err != nil {
			return false, err
		}
		return false, r.insert(key)
	case "a":
		key, err := intArg()
		if err != nil {
			return false, err
		}
		return false, r.remove(key)
	case "g":
		key, err := intArg()
		if err != nil {
			return false, err
		}
		return false, r.get(key)
	case "r":
		key, err := intArg()
		if err != nil {
			return false, err
		}
		return false, r.scan(key)
	case "f":
		file, err := arg()
		if err != nil {
			return false, err
		}
		return false, r.bulk(file, r.insert)
	case "d":
		file, err := arg()
		if err != nil {
			return false, err
		}
		return false, r.bulk(file, r.remove)
	case "t":
		dump, err := r.index.DumpJSON()
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, dump)
		return false, nil
	case "l":
		return false, r.listIndexes()
	}

	return false, errors.Errorf("unknown command %q", cmd)
}

func (r *Repl) insert(key int64) error {
	txn := r.engine.TxnManager().Begin()
	err := r.index.Insert(key, ridForKey(key), txn)
	if err != nil {
		r.engine.TxnManager().Abort(txn)
		return err
	}
	r.engine.TxnManager().Commit(txn)

	return nil
}

func (r *Repl) remove(key int64) error {
	txn := r.engine.TxnManager().Begin()
	if err := r.index.Remove(key, txn); err != nil {
		r.engine.TxnManager().Abort(txn)
		return err
	}
	r.engine.TxnManager().Commit(txn)

	return nil
}

func (r *Repl) get(key int64) error {
	txn := r.engine.TxnManager().Begin()
	defer r.engine.TxnManager().Commit(txn)

	rid, err := r.index.GetValue(key, txn)
	if err != nil {
		return err
	}
	if rid.IsNone() {
		fmt.Fprintf(r.out, "%d: not found\n", key)
		return nil
	}
	fmt.Fprintf(r.out, "%d -> %s\n", key, rid.Unwrap())

	return nil
}

func (r *Repl) scan(fromKey int64) error {
	it, err := r.index.BeginAt(fromKey)
	if err != nil {
		return err
	}
	defer it.Close()

	for !it.IsEnd() {
		fmt.Fprintf(r.out, "%d -> %s\n", it.Key(), it.RID())
		if err := it.Next(); err != nil {
			return err
		}
	}

	return nil
}

// bulk streams whitespace-separated keys from a file through a bounded
// worker group; every key runs in its own transaction.
func (r *Repl) bulk(path string, op func(int64) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var g errgroup.Group
	g.SetLimit(bulkWorkers)

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		key, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return op(key)
		})
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return g.Wait()
}

func (r *Repl) listIndexes() error {
	records, err := r.engine.ListIndexes()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Index", "Root Page"})
	for _, rec := range records {
		table.Append([]string{rec.Name, strconv.Itoa(int(rec.Root))})
	}
	table.Render()

	return nil
}
