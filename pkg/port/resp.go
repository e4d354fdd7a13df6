// The casket demo binary exposes its named caches over the Redis protocol, so any Redis client can poke at them.
// Every command addresses a cache by name first: `SET images thumb-1 <value> [ttlSeconds]`, `GET images thumb-1`,
// and so on. The port is a consumer of the cache library, not part of it; it holds no state beyond the registry.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/redcon"

	"github.com/casketcache/casket/pkg/cache"
	"github.com/casketcache/casket/pkg/registry"
)

var address = flag.String("address", ":6380", "The ip:port to listen on for the Redis protocol.")

// command represents a parsed client command.
type command struct {
	name string
	args []string
}

// output conforms to a real Redis server output shape.
type output struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeString     *string  // Writes a simple string value if set.
	writeBulk       []string // Writes an array of bulk strings if set.
}

func closeConnection(msg string) output {
	return output{writeString: &msg, closeConnection: true}
}

func writeNil() output {
	return output{writeNil: true}
}

func writeInt(i int) output {
	return output{writeInt: &i}
}

func writeString(s string) output {
	return output{writeString: &s}
}

func writeBulkStrings(values []string) output {
	return output{writeBulk: values}
}

func writeError(err error) output {
	msg := "ERR " + err.Error()
	return output{err: &msg}
}

type handler struct {
	caches *registry.Registry[string]
}

// newHandler creates a command handler over a registry of string-valued caches.
func newHandler(caches *registry.Registry[string]) (*handler, error) {
	if caches == nil {
		return nil, errors.New("expected a non-nil registry")
	}
	return &handler{caches: caches}, nil
}

func (h *handler) handle(cmd command) output {
	switch cmd.name {
	case "PING":
		return writeString("PONG")
	case "QUIT":
		return closeConnection("OK")
	case "SET":
		if len(cmd.args) != 3 && len(cmd.args) != 4 {
			return writeError(errors.New("wrong number of arguments for 'SET' command"))
		}
		c, err := h.caches.Get(cmd.args[0])
		if err != nil {
			return writeError(err)
		}
		var opts cache.SetOptions
		if len(cmd.args) == 4 {
			ttlSeconds, err := strconv.Atoi(cmd.args[3])
			if err != nil {
				return writeError(fmt.Errorf("invalid ttl %q", cmd.args[3]))
			}
			opts.TTL = time.Duration(ttlSeconds) * time.Second
		}
		if err := c.SetWithOptions(cmd.args[1], cmd.args[2], opts); err != nil {
			return writeError(err)
		}
		return writeString("OK")
	case "GET":
		if len(cmd.args) != 2 {
			return writeError(errors.New("wrong number of arguments for 'GET' command"))
		}
		c, err := h.caches.Get(cmd.args[0])
		if err != nil {
			return writeError(err)
		}
		if value, found := c.Get(cmd.args[1]); found {
			return writeString(value)
		}
		return writeNil()
	case "DEL":
		if len(cmd.args) < 2 {
			return writeError(errors.New("wrong number of arguments for 'DEL' command"))
		}
		c, err := h.caches.Get(cmd.args[0])
		if err != nil {
			return writeError(err)
		}
		deletedCount := 0
		for _, key := range cmd.args[1:] {
			if c.Delete(key) {
				deletedCount++
			}
		}
		return writeInt(deletedCount)
	case "EXISTS":
		if len(cmd.args) != 2 {
			return writeError(errors.New("wrong number of arguments for 'EXISTS' command"))
		}
		c, err := h.caches.Get(cmd.args[0])
		if err != nil {
			return writeError(err)
		}
		if c.Has(cmd.args[1]) {
			return writeInt(1)
		}
		return writeInt(0)
	case "KEYS":
		if len(cmd.args) != 1 {
			return writeError(errors.New("wrong number of arguments for 'KEYS' command"))
		}
		c, err := h.caches.Get(cmd.args[0])
		if err != nil {
			return writeError(err)
		}
		keys := make([]string, 0)
		for key := range c.Keys() {
			keys = append(keys, key)
		}
		return writeBulkStrings(keys)
	case "STATS":
		if len(cmd.args) != 1 {
			return writeError(errors.New("wrong number of arguments for 'STATS' command"))
		}
		c, err := h.caches.Get(cmd.args[0])
		if err != nil {
			return writeError(err)
		}
		stats := c.Stats()
		return writeBulkStrings([]string{
			fmt.Sprintf("entries:%d", stats.Entries),
			fmt.Sprintf("size_bytes:%d", stats.SizeBytes),
			fmt.Sprintf("hits:%d", stats.Hits),
			fmt.Sprintf("misses:%d", stats.Misses),
			fmt.Sprintf("evictions:%d", stats.Evictions),
			fmt.Sprintf("expirations:%d", stats.Expirations),
			fmt.Sprintf("hit_rate:%.4f", stats.HitRate),
		})
	case "SIMILAR":
		if len(cmd.args) < 3 {
			return writeError(errors.New("wrong number of arguments for 'SIMILAR' command"))
		}
		c, err := h.caches.Get(cmd.args[0])
		if err != nil {
			return writeError(err)
		}
		threshold, err := strconv.ParseFloat(cmd.args[1], 64)
		if err != nil {
			return writeError(fmt.Errorf("invalid threshold %q", cmd.args[1]))
		}
		query := strings.Join(cmd.args[2:], " ")
		matches := c.FindSimilar(query, threshold)
		results := make([]string, 0, len(matches))
		for _, match := range matches {
			results = append(results, fmt.Sprintf("%s:%.4f", match.Key, match.Score))
		}
		return writeBulkStrings(results)
	default:
		return writeError(fmt.Errorf("unknown command '%s'", cmd.name))
	}
}

// writeOutput applies an output to the client connection.
func writeOutput(conn redcon.Conn, out output) {
	switch {
	case out.closeConnection:
		if out.writeString != nil {
			conn.WriteString(*out.writeString)
		}
		if err := conn.Close(); err != nil {
			slog.Error("Failed to close connection.", "error", err)
		}
	case out.err != nil:
		conn.WriteError(*out.err)
	case out.writeNil:
		conn.WriteNull()
	case out.writeInt != nil:
		conn.WriteInt(*out.writeInt)
	case out.writeBulk != nil:
		conn.WriteArray(len(out.writeBulk))
		for _, value := range out.writeBulk {
			conn.WriteBulkString(value)
		}
	case out.writeString != nil:
		conn.WriteString(*out.writeString)
	default:
		conn.WriteError("ERR empty reply")
	}
}

// RunServer starts a Redis protocol server over the given registry and blocks until the ctx is cancelled or the
// server fails. On cancellation it closes the listener and shuts every cache down through the registry.
func RunServer(ctx context.Context, caches *registry.Registry[string]) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	commandHandler, err := newHandler(caches)
	if err != nil {
		return fmt.Errorf("failed to create the command handler: %w", err)
	}

	server := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, redconCmd redcon.Command) {
			cmd := command{name: strings.ToUpper(string(redconCmd.Args[0])), args: make([]string, len(redconCmd.Args)-1)}
			for i := 1; i < len(redconCmd.Args); i++ {
				cmd.args[i-1] = string(redconCmd.Args[i])
			}
			writeOutput(conn, commandHandler.handle(cmd))
		},
		/*accept*/ func(conn redcon.Conn) bool {
			return true // Accept all connections.
		},
		/*close*/ func(conn redcon.Conn, err error) {})

	serverErrSignal := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()

	select {
	case <-ctx.Done():
		serverErr := server.Close()
		cachesErr := caches.ShutdownAll()
		if exitErr := errors.Join(serverErr, cachesErr); exitErr != nil {
			return fmt.Errorf("failed to close casket: %w", exitErr)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("redis protocol server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
