package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpflow/llm/toolloop"
	"github.com/BaSui01/mcpflow/llm/tools"
	"github.com/BaSui01/mcpflow/types"
)

// toolPreviewLimit 终端中工具结果的最大展示长度
const toolPreviewLimit = 200

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	system := fs.String("system", "", "System prompt")
	model := fs.String("model", "", "Model override")
	maxLoops := fs.Int("max-loops", 0, "Tool loop limit override")
	noTools := fs.Bool("no-tools", false, "Do not offer tools to the model")
	fs.Parse(args)

	prompt, err := readPrompt(fs.Args(), os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	// Ctrl-C 中止当前请求，输出干净结束
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	defer a.close()

	withTools := !*noTools && len(cfg.MCPServers) > 0
	if withTools && a.connectServers(ctx) == 0 {
		logger.Warn("no mcp server reachable, continuing without tools")
		withTools = false
	}

	provider, err := a.buildProvider()
	if err != nil {
		return err
	}

	loops := cfg.ToolLoop.MaxLoops
	if *maxLoops > 0 {
		loops = *maxLoops
	}
	svc := a.newService(provider, withTools, loops)
	if err := svc.Init(ctx); err != nil {
		return err
	}
	defer svc.Dispose()

	messages := make([]types.Message, 0, 2)
	if *system != "" {
		messages = append(messages, types.NewSystemMessage(*system))
	}
	messages = append(messages, types.NewUserMessage(prompt))

	req := &toolloop.Request{
		Messages:    messages,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
		OnNotice: func(notice string) {
			fmt.Fprintf(os.Stderr, "\n[notice] %s\n", notice)
		},
	}
	if *model != "" {
		req.Model = *model
	}
	if !withTools {
		// 非 nil 的空切片阻止 Service 自动发现工具
		req.Tools = []types.ToolDefinition{}
	}

	chunks, err := svc.Stream(ctx, req)
	if err != nil {
		return err
	}

	streamErr := render(os.Stdout, chunks)
	fmt.Fprintln(os.Stdout)
	if streamErr != nil {
		logger.Debug("stream failed", zap.String("type", string(streamErr.Type)), zap.Int("status", streamErr.Status))
		return streamErr
	}
	return nil
}

// readPrompt 从参数或 stdin（参数为 "-"）读取提示词
func readPrompt(args []string, stdin io.Reader) (string, error) {
	var prompt string
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		prompt = string(data)
	} else {
		prompt = strings.Join(args, " ")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}
	return prompt, nil
}

// render 把流写到 w，工具标记转为可读的一行摘要；返回流的终止错误
func render(w io.Writer, chunks <-chan toolloop.Chunk) *types.Error {
	var streamErr *types.Error
	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
			continue
		}
		if !strings.Contains(chunk.Text, toolloop.MarkerStart) {
			fmt.Fprint(w, chunk.Text)
			continue
		}
		for _, seg := range toolloop.ParseMarkers(chunk.Text) {
			if seg.Tool == nil {
				fmt.Fprint(w, seg.Text)
				continue
			}
			fmt.Fprintf(w, "\n[tool %s] %s\n", seg.Tool.Name, preview(seg.Tool.Result))
		}
	}
	return streamErr
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > toolPreviewLimit {
		return string(r[:toolPreviewLimit]) + "…"
	}
	return s
}

// =============================================================================
// 🧰 tools 命令
// =============================================================================

func runTools(args []string) error {
	fs := flag.NewFlagSet("tools", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	defer a.close()

	if len(cfg.MCPServers) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}
	a.connectServers(ctx)

	defs, err := a.registry.ListTools(ctx)
	if err != nil {
		logger.Warn("some servers failed tool discovery", zap.Error(err))
	}
	printTools(os.Stdout, defs)
	return nil
}

func printTools(w io.Writer, defs []types.ToolDefinition) {
	if len(defs) == 0 {
		fmt.Fprintln(w, "No tools available.")
		return
	}
	sorted := append([]types.ToolDefinition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ServerID != sorted[j].ServerID {
			return sorted[i].ServerID < sorted[j].ServerID
		}
		return sorted[i].Name < sorted[j].Name
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tTOOL\tARGUMENTS")
	for _, d := range sorted {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ServerID, d.Name, tools.ParseSchema(d.InputSchema).Summary())
	}
	tw.Flush()
}
