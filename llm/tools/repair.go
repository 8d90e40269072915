package tools

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/BaSui01/mcpflow/llm"
	"github.com/BaSui01/mcpflow/types"
)

// MaxCandidates 是单次工具调用最多尝试的参数组合数
const MaxCandidates = 8

var (
	slugPattern      = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	githubURLPattern = regexp.MustCompile(`^(?i)(?:https?://)?(?:www\.)?github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+?)(?:\.git)?(?:[/?#].*)?$`)
	repoToolPattern  = regexp.MustCompile(`(?i)repo|github|git`)

	// 可以换一组参数重试的上游故障
	recoverablePattern = regexp.MustCompile(`(?i)\b5\d{2}\b|internal server error|bad gateway|service unavailable|gateway timeout|temporar(?:y|ily) unavailable|timed? ?out|econnreset|connection reset|try again|overloaded`)
)

// repoRef 是从参数中提取出的仓库线索
type repoRef struct {
	Owner string
	Repo  string
}

func (r repoRef) Slug() string { return r.Owner + "/" + r.Repo }
func (r repoRef) URL() string  { return "https://github.com/" + r.Slug() }

// parseRepoRef 识别 owner/repo 或 GitHub URL
func parseRepoRef(s string) (repoRef, bool) {
	s = strings.TrimSpace(s)
	if m := githubURLPattern.FindStringSubmatch(s); m != nil {
		return repoRef{Owner: m[1], Repo: m[2]}, true
	}
	if slugPattern.MatchString(s) {
		parts := strings.SplitN(s, "/", 2)
		return repoRef{Owner: parts[0], Repo: parts[1]}, true
	}
	return repoRef{}, false
}

// convertFor 按目标字段的形态转换取值：URL 字段要完整地址，repo 字段要 owner/repo。
func convertFor(kind keyKind, value string) string {
	switch kind {
	case kindURL:
		if slugPattern.MatchString(value) {
			return "https://github.com/" + value
		}
	case kindRepo:
		if m := githubURLPattern.FindStringSubmatch(value); m != nil {
			return m[1] + "/" + m[2]
		}
	}
	return value
}

// cloneArgs 浅拷贝参数
func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// NormalizeArguments 修复模型常见的参数形态错误，不修改入参。
//
//   - 字符串去除首尾空白
//   - 名称像 URL 的字段收到 owner/repo 时补全为 GitHub 地址，反之亦然
//   - 恰好缺一个必填字段时，从其他 URL/repo 类字段或唯一的非空字符串参数回填
func NormalizeArguments(args map[string]any, schema Schema) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			v = convertFor(kindOf(k), strings.TrimSpace(s))
		}
		out[k] = v
	}

	var missing []string
	for _, field := range schema.Required {
		if isMissing(out, field) {
			missing = append(missing, field)
		}
	}
	if len(missing) != 1 {
		return out
	}
	target := missing[0]
	targetKind := kindOf(target)

	// 优先使用名称同样像 URL/repo 的字段
	if targetKind != kindOther {
		for _, key := range sortedKeys(out) {
			if key == target || kindOf(key) == kindOther {
				continue
			}
			s, ok := out[key].(string)
			if !ok || s == "" {
				continue
			}
			out[target] = convertFor(targetKind, s)
			// schema 未声明的来源字段移除，避免严格的服务端拒绝
			if len(schema.Properties) > 0 && !schema.HasProperty(key) {
				delete(out, key)
			}
			return out
		}
	}

	donor := ""
	for _, key := range sortedKeys(out) {
		if s, ok := out[key].(string); ok && s != "" {
			if donor != "" {
				return out
			}
			donor = key
		}
	}
	if donor != "" && donor != target {
		out[target] = convertFor(targetKind, out[donor].(string))
		if len(schema.Properties) > 0 && !schema.HasProperty(donor) {
			delete(out, donor)
		}
	}
	return out
}

// BuildCandidates 生成按顺序尝试的参数组合，已去重并限制在 MaxCandidates 个以内。
// 第一个候选总是 NormalizeArguments 的结果。
func BuildCandidates(toolName string, args map[string]any, schema Schema) []map[string]any {
	normalized := NormalizeArguments(args, schema)

	var (
		out  []map[string]any
		seen = map[string]bool{}
	)
	add := func(c map[string]any) {
		if len(out) >= MaxCandidates || c == nil {
			return
		}
		key := canonical(c)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	add(normalized)

	// 只保留必填字段
	if len(schema.Required) > 0 {
		projected := map[string]any{}
		for _, field := range schema.Required {
			if v, ok := normalized[field]; ok {
				projected[field] = v
			}
		}
		if len(projected) > 0 {
			add(projected)
		}
	}

	add(legacyAlternate(normalized))

	if isRepoTool(toolName, schema) {
		if ref, ok := extractRepoHint(normalized); ok {
			for _, c := range repoSubstitutions(normalized, schema, ref) {
				add(c)
			}
		}
	}
	return out
}

// legacyAlternate 把 URL/repo 类字段的取值翻转成另一种编码，部分旧服务端只接受其中一种
func legacyAlternate(args map[string]any) map[string]any {
	alt := cloneArgs(args)
	changed := false
	for k, v := range alt {
		s, ok := v.(string)
		if !ok || kindOf(k) == kindOther {
			continue
		}
		ref, ok := parseRepoRef(s)
		if !ok {
			continue
		}
		if githubURLPattern.MatchString(s) {
			alt[k] = ref.Slug()
		} else {
			alt[k] = ref.URL()
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return alt
}

func isRepoTool(name string, schema Schema) bool {
	if repoToolPattern.MatchString(name) {
		return true
	}
	for _, key := range schema.Keys() {
		if repoToolPattern.MatchString(key) {
			return true
		}
	}
	return false
}

// extractRepoHint 从参数里找出仓库线索：URL、slug，或分开给出的 owner 与 repo/name
func extractRepoHint(args map[string]any) (repoRef, bool) {
	for _, key := range sortedKeys(args) {
		if s, ok := args[key].(string); ok {
			if ref, ok := parseRepoRef(s); ok {
				return ref, true
			}
		}
	}
	owner, _ := args["owner"].(string)
	if owner == "" {
		return repoRef{}, false
	}
	for _, key := range []string{"repo", "name", "repository"} {
		if r, ok := args[key].(string); ok && r != "" && !strings.Contains(r, "/") {
			return repoRef{Owner: owner, Repo: r}, true
		}
	}
	return repoRef{}, false
}

// repoSubstitutions 把仓库线索的每种编码写入 schema 中每个 URL/repo 类字段
func repoSubstitutions(base map[string]any, schema Schema, ref repoRef) []map[string]any {
	var out []map[string]any

	keys := schema.Keys()
	if len(keys) == 0 {
		keys = sortedKeys(base)
	}
	for _, key := range keys {
		kind := kindOf(key)
		if kind == kindOther {
			continue
		}
		forms := []string{ref.URL(), ref.Slug()}
		if kind == kindRepo {
			forms = []string{ref.Slug(), ref.URL(), ref.Repo}
		}
		for _, form := range forms {
			c := cloneArgs(base)
			c[key] = form
			out = append(out, c)
		}
	}

	// owner + repo 分开声明的 schema
	if schema.HasProperty("owner") {
		for _, name := range []string{"repo", "name", "repository"} {
			if !schema.HasProperty(name) {
				continue
			}
			c := cloneArgs(base)
			c["owner"] = ref.Owner
			c[name] = ref.Repo
			out = append(out, c)
			break
		}
	}
	return out
}

// IsRecoverable 判断工具调用错误是否值得换一组参数再试
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if recoverablePattern.MatchString(err.Error()) {
		return true
	}
	ne := llm.NormalizeError(err, "")
	if ne.IsAbort {
		return false
	}
	return ne.Type == types.ErrorTypeServer || ne.Type == types.ErrorTypeNetwork
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func canonical(args map[string]any) string {
	// encoding/json 对 map 键排序输出
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}
