// Command cachedemo drives the engine through the core request/response
// scenarios by hand, the same way the teacher's original main() walked a
// single Cache through a set/get/expire cycle — just with one cobra
// subcommand per scenario instead of one hardcoded script.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scdblab/rejig/engine"
)

var logger zerolog.Logger

func newEngine() *engine.Engine {
	return engine.New(
		engine.WithLogger(logger),
		engine.WithCleanupInterval(0), // demo runs are short-lived; lazy expiry is enough
	)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Logger = logger

	root := &cobra.Command{
		Use:   "cachedemo",
		Short: "Exercises the item store and lease state machine from the command line",
	}

	root.AddCommand(classicCmd(), leaseCmd(), quarantineCmd(), coSessionCmd(), dumpCmd())

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("cachedemo failed")
		os.Exit(1)
	}
}

// classicCmd walks set -> get -> delete -> get, spec.md §8 scenario 1.
func classicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classic",
		Short: "set/get/delete against the classic store API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine()
			defer e.Stop()

			key := []byte("a")
			if res := e.Set(key, []byte("apple"), 0, 0); res != engine.StoreStored {
				return fmt.Errorf("set: unexpected result %s", res)
			}
			if it, ok := e.Get(key); ok {
				logger.Info().Str("key", string(key)).Str("value", string(it.Data)).Msg("get hit")
			}
			if res := e.GetAndDelete(key, false); res != engine.StoreExists {
				return fmt.Errorf("delete: unexpected result %s", res)
			}
			if _, ok := e.Get(key); !ok {
				logger.Info().Str("key", string(key)).Msg("get miss after delete")
			}
			return nil
		},
	}
}

// leaseCmd walks a miss -> IQ_LEASE -> iqset -> hit cycle, spec.md §8
// scenario 4's I-lease handshake.
func leaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lease",
		Short: "I-lease handshake on a cold key",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine()
			defer e.Stop()

			key := []byte("b")
			res, _, token := e.IQGet(key, 0, []byte("demo-tid"), false)
			if res != engine.IQLease {
				return fmt.Errorf("iqget: expected IQ_LEASE, got %s", res)
			}
			logger.Info().Uint64("token", token).Msg("minted I lease for cold key")

			slabItem := e.NewItem(key, []byte("bat"))
			if res := e.IQSet(slabItem, engine.ReqIQSet, token); res != engine.StoreStored {
				return fmt.Errorf("iqset: unexpected result %s", res)
			}

			res2, it, _ := e.IQGet(key, 0, []byte("demo-tid-2"), false)
			if res2 != engine.IQValue {
				return fmt.Errorf("iqget: expected IQ_VALUE after iqset, got %s", res2)
			}
			logger.Info().Str("value", string(it.Data)).Msg("lease filled, value now visible")
			return nil
		},
	}
}

// quarantineCmd walks quarantine_and_read -> commit, spec.md §8 scenario 5.
func quarantineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quarantine",
		Short: "Q_REF lease refresh and commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine()
			defer e.Stop()

			key := []byte("c")
			if res := e.Set(key, []byte("cat"), 0, 0); res != engine.StoreStored {
				return fmt.Errorf("set: unexpected result %s", res)
			}

			tid := []byte("demo-tid")
			res, pv, token := e.QuarantineAndRead(tid, key, 0, 0)
			if res != engine.IQLease {
				return fmt.Errorf("quarantine_and_read: expected IQ_LEASE, got %s", res)
			}
			logger.Info().Str("pending_version", string(pv.Data)).Uint64("token", token).Msg("quarantined key, staged pending version")

			if res := e.Commit(tid, false, 0); res != engine.IQOK {
				return fmt.Errorf("commit: unexpected result %s", res)
			}
			if it, ok := e.Get(key); ok {
				logger.Info().Str("value", string(it.Data)).Msg("value after commit")
			}
			return nil
		},
	}
}

// coSessionCmd walks ciget -> oqwrite -> validate -> dcommit, the
// cooperative session protocol of spec.md §4.7.7.
func coSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "co-session",
		Short: "cooperative read/modify/write session over a shared key",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine()
			defer e.Stop()

			key := []byte("d")
			if res := e.Set(key, []byte("dog"), 0, 0); res != engine.StoreStored {
				return fmt.Errorf("set: unexpected result %s", res)
			}

			sid := []byte("demo-sid")
			res, it := e.CIGet(sid, key, 0)
			if res != engine.COOK {
				return fmt.Errorf("ciget: unexpected result %s", res)
			}
			logger.Info().Str("value", string(it.Data)).Msg("session joined colease, read current value")

			if res := e.OQWrite(sid, key, []byte("doge"), 0); res != engine.COOK {
				return fmt.Errorf("oqwrite: unexpected result %s", res)
			}
			if res := e.Validate(sid); res != engine.COOK {
				return fmt.Errorf("validate: unexpected result %s", res)
			}
			if res := e.DCommit(sid); res != engine.COOK {
				return fmt.Errorf("dcommit: unexpected result %s", res)
			}

			if it, ok := e.Get(key); ok {
				logger.Info().Str("value", string(it.Data)).Msg("value after session commit")
			}
			return nil
		},
	}
}

// dumpCmd prints the cache-dump format for a slab class with a couple of
// items linked into it.
func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Render the cache-dump wire format for a populated slab class",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine()
			defer e.Stop()

			e.Set([]byte("d1"), []byte("one"), 0, 0)
			e.Set([]byte("d2"), []byte("two"), 0, 0)

			out := e.CacheDump(1, 0)
			fmt.Print(string(out))
			return nil
		},
	}
}
