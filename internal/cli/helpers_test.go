package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/harun/joe/internal/config"
	"github.com/harun/joe/pkg/assistant"
	"github.com/harun/joe/pkg/chat"
	"github.com/harun/joe/pkg/conversation"
	"github.com/harun/joe/pkg/responder"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// fakeGenerator answers every call with reply and records the handles it saw
type fakeGenerator struct {
	mu      sync.Mutex
	handles []assistant.Handle
	prompts []string
	reply   func(h assistant.Handle) (responder.Result, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []conversation.Message, h assistant.Handle) (responder.Result, error) {
	f.mu.Lock()
	f.handles = append(f.handles, h)
	if last, ok := conversation.LastUser(messages); ok {
		f.prompts = append(f.prompts, last.Content)
	}
	f.mu.Unlock()
	return f.reply(h)
}

func (f *fakeGenerator) calls() []assistant.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assistant.Handle(nil), f.handles...)
}

func answering(text, thread string) *fakeGenerator {
	return &fakeGenerator{reply: func(assistant.Handle) (responder.Result, error) {
		return responder.Result{Text: text, Handle: assistant.OptionalHandle(thread)}, nil
	}}
}

func failing(kind responder.Kind) *fakeGenerator {
	return &fakeGenerator{reply: func(h assistant.Handle) (responder.Result, error) {
		return responder.Result{}, &responder.Error{Kind: kind, Op: "test", Handle: h.String()}
	}}
}

// useGenerator makes terminal sessions talk to gen
func useGenerator(t *testing.T, gen chat.Generator) {
	t.Helper()
	prev := newGenerator
	newGenerator = func(*config.Config, zerolog.Logger) (chat.Generator, error) {
		return gen, nil
	}
	t.Cleanup(func() { newGenerator = prev })
}

// writeConfig saves a usable config under a temp dir and returns its path
func writeConfig(t *testing.T, edit ...func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.OpenAI.APIKey = "sk-test-key"
	cfg.OpenAI.AssistantID = "asst_test"
	cfg.Store.Path = filepath.Join(dir, "sessions")
	cfg.Logging.File = filepath.Join(dir, "joe.log")
	for _, fn := range edit {
		fn(cfg)
	}

	path := filepath.Join(dir, "joe.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))
	return path
}

// execute runs the root command with fresh flag state
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cfgFile, logLevel, profile = "", "", ""
	askFresh, showTranscript = false, false
	serveHost, servePort = "", 0
	stopTimeout = 30

	cmd := GetRootCmd()
	resetBoolFlags(cmd)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// resetBoolFlags clears --help and --version left over from earlier runs
func resetBoolFlags(cmd *cobra.Command) {
	for _, name := range []string{"help", "version"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set("false")
			f.Changed = false
		}
	}
	for _, sub := range cmd.Commands() {
		resetBoolFlags(sub)
	}
}
