package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/loomworks/loom/internal/core/domain"
)

// errFinalized aborts the interpreter after a finalize call. It is
// filtered out in run and never surfaces as a step error.
var errFinalized = errors.New("finalized")

// capError is an error raised by a capability command. The kind becomes
// the tagged step error kind.
type capError struct {
	kind string
	msg  string
}

func (e *capError) Error() string { return e.kind + ": " + e.msg }

func usageErr(cmd, msg string) error {
	return &capError{kind: "UsageError", msg: cmd + ": " + msg}
}

// outBuffer collects step stdout. Pipeline stages run in their own
// goroutines, so writes are serialized.
type outBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *outBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// session is the per-step execution context. A fresh session is created
// for every Step call; only memory and the finalize payload outlive it,
// through the runtime state.
type session struct {
	rt        *Runtime
	subcall   SubcallFunc
	out       outBuffer
	finalized bool
	payload   any
}

func newSession(rt *Runtime, subcall SubcallFunc) *session {
	return &session{rt: rt, subcall: subcall}
}

func (s *session) run(ctx context.Context, code string) *domain.StepError {
	file, err := syntax.NewParser().Parse(strings.NewReader(code), "step")
	if err != nil {
		return &domain.StepError{Kind: "SyntaxError", Message: err.Error()}
	}
	runner, err := interp.New(
		interp.StdIO(strings.NewReader(""), &s.out, &s.out),
		interp.Env(expand.ListEnviron()),
		interp.ExecHandlers(s.execHandler),
		interp.OpenHandler(s.openHandler),
	)
	if err != nil {
		return &domain.StepError{Kind: "RuntimeError", Message: err.Error()}
	}
	if err := runner.Run(ctx, file); err != nil && !errors.Is(err, errFinalized) {
		return classify(err)
	}
	return nil
}

// execHandler routes every non-builtin command to the capability surface.
// Nothing falls through to next: steps cannot spawn processes.
func (s *session) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		hc := interp.HandlerCtx(ctx)
		switch args[0] {
		case "chunks":
			return s.cmdChunks(hc, args[1:])
		case "chunk":
			return s.cmdChunk(hc, args[1:])
		case "peek":
			return s.cmdPeek(hc, args[1:])
		case "find":
			return s.cmdFind(hc, args[1:])
		case "mem":
			return s.cmdMem(hc, args[1:])
		case "call":
			return s.cmdCall(ctx, hc, args[1:])
		case "finalize":
			return s.cmdFinalize(args[1:])
		}
		return &capError{kind: "UnknownCommand", msg: args[0] + ": not a capability"}
	}
}

// openHandler denies file access. /dev/null stays usable so redirects
// like `2>/dev/null` keep working.
func (s *session) openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		return devNull{}, nil
	}
	return nil, &capError{kind: "FilesystemDenied", msg: path + ": file access is not available in steps"}
}

type devNull struct{}

func (devNull) Read(p []byte) (int, error)  { return 0, io.EOF }
func (devNull) Write(p []byte) (int, error) { return len(p), nil }
func (devNull) Close() error                { return nil }

// cmdChunks lists chunk metadata, one tab-separated line per chunk:
// id, source path, line range, character count.
func (s *session) cmdChunks(hc interp.HandlerContext, args []string) error {
	source, max, rest, err := chunkFlags("chunks", args)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return usageErr("chunks", "unexpected argument "+rest[0])
	}
	n := 0
	for _, c := range s.rt.chunks {
		if source != "" && c.Source != source {
			continue
		}
		fmt.Fprintf(hc.Stdout, "%s\t%s\t%d-%d\t%d\n", c.ID, c.Source, c.StartLine, c.EndLine, c.Chars)
		n++
		if max > 0 && n >= max {
			break
		}
	}
	return nil
}

func (s *session) cmdChunk(hc interp.HandlerContext, args []string) error {
	if len(args) != 1 {
		return usageErr("chunk", "expected exactly one chunk id")
	}
	c, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	writeLine(hc.Stdout, c.Text)
	return nil
}

// cmdPeek prints the first n lines of a chunk.
func (s *session) cmdPeek(hc interp.HandlerContext, args []string) error {
	if len(args) != 2 {
		return usageErr("peek", "expected chunk id and line count")
	}
	c, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	n, convErr := strconv.Atoi(args[1])
	if convErr != nil || n < 1 {
		return usageErr("peek", "line count must be a positive integer")
	}
	lines := strings.Split(c.Text, "\n")
	if n < len(lines) {
		lines = lines[:n]
	}
	writeLine(hc.Stdout, strings.Join(lines, "\n"))
	return nil
}

// cmdFind greps chunk text with a Go regular expression and prints
// id:line:text for every matching line.
func (s *session) cmdFind(hc interp.HandlerContext, args []string) error {
	source, max, rest, err := chunkFlags("find", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return usageErr("find", "expected exactly one pattern")
	}
	re, compErr := regexp.Compile(rest[0])
	if compErr != nil {
		return &capError{kind: "BadPattern", msg: compErr.Error()}
	}
	n := 0
	for _, c := range s.rt.chunks {
		if source != "" && c.Source != source {
			continue
		}
		for i, line := range strings.Split(c.Text, "\n") {
			if !re.MatchString(line) {
				continue
			}
			fmt.Fprintf(hc.Stdout, "%s:%d:%s\n", c.ID, c.StartLine+i, line)
			n++
			if max > 0 && n >= max {
				return nil
			}
		}
	}
	return nil
}

// cmdMem exposes the scratch memory. Keys and values survive across
// steps through the persisted runtime state.
func (s *session) cmdMem(hc interp.HandlerContext, args []string) error {
	if len(args) == 0 {
		return usageErr("mem", "expected get, set, del or keys")
	}
	switch args[0] {
	case "get":
		if len(args) != 2 {
			return usageErr("mem", "get expects a key")
		}
		v, ok := s.rt.st.Memory[args[1]]
		if !ok {
			return interp.NewExitStatus(1)
		}
		writeLine(hc.Stdout, v)
		return nil
	case "set":
		if len(args) != 3 {
			return usageErr("mem", "set expects a key and a value")
		}
		s.rt.st.Memory[args[1]] = args[2]
		return nil
	case "del":
		if len(args) != 2 {
			return usageErr("mem", "del expects a key")
		}
		delete(s.rt.st.Memory, args[1])
		return nil
	case "keys":
		if len(args) != 1 {
			return usageErr("mem", "keys takes no arguments")
		}
		keys := make([]string, 0, len(s.rt.st.Memory))
		for k := range s.rt.st.Memory {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeLine(hc.Stdout, k)
		}
		return nil
	}
	return usageErr("mem", "unknown subcommand "+args[0])
}

// cmdCall issues an external model call through the broker hook and
// prints the response text. Only available in subcalls mode.
func (s *session) cmdCall(ctx context.Context, hc interp.HandlerContext, args []string) error {
	if s.subcall == nil {
		return &capError{kind: "SubcallUnavailable", msg: "call is not available in baseline mode"}
	}
	var provider string
	rest := args
	if len(rest) > 0 && rest[0] == "-p" {
		if len(rest) < 2 {
			return usageErr("call", "-p requires a provider name")
		}
		provider = rest[1]
		rest = rest[2:]
	}
	if len(rest) == 0 {
		return usageErr("call", "expected a prompt")
	}
	prompt := strings.Join(rest, " ")
	res, err := s.subcall(ctx, prompt, provider)
	if err != nil {
		return &capError{kind: "SubcallFailed", msg: err.Error()}
	}
	writeLine(hc.Stdout, res.Text)
	return nil
}

// cmdFinalize records the final payload and halts the step. A single
// argument that parses as a JSON object or array is stored structured;
// anything else is stored as the space-joined string.
func (s *session) cmdFinalize(args []string) error {
	if len(args) == 0 {
		return usageErr("finalize", "expected a payload")
	}
	s.finalized = true
	s.payload = strings.Join(args, " ")
	if len(args) == 1 {
		trimmed := strings.TrimSpace(args[0])
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var structured any
			if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
				s.payload = structured
			}
		}
	}
	return errFinalized
}

func (s *session) lookup(id string) (domain.Chunk, error) {
	i, ok := s.rt.byID[id]
	if !ok {
		return domain.Chunk{}, &capError{kind: "ChunkNotFound", msg: id + ": no such chunk"}
	}
	return s.rt.chunks[i], nil
}

// chunkFlags parses the shared -s and -n flags of chunks and find.
func chunkFlags(cmd string, args []string) (source string, max int, rest []string, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-s":
			i++
			if i >= len(args) {
				return "", 0, nil, usageErr(cmd, "-s requires a source path")
			}
			source = args[i]
		case "-n":
			i++
			if i >= len(args) {
				return "", 0, nil, usageErr(cmd, "-n requires a count")
			}
			max, err = strconv.Atoi(args[i])
			if err != nil || max < 1 {
				return "", 0, nil, usageErr(cmd, "-n must be a positive integer")
			}
		default:
			rest = append(rest, args[i])
		}
	}
	return source, max, rest, nil
}

func writeLine(w io.Writer, s string) {
	_, _ = io.WriteString(w, s)
	if !strings.HasSuffix(s, "\n") {
		_, _ = io.WriteString(w, "\n")
	}
}
