package tools

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// maxSummaryFields 限制 schema 摘要中 name:type 对的数量
const maxSummaryFields = 12

var (
	urlKeyPattern  = regexp.MustCompile(`(?i)url|uri|link|endpoint`)
	repoKeyPattern = regexp.MustCompile(`(?i)repo|repository|slug|project`)
)

// keyKind 是参数名暗示的取值形态
type keyKind int

const (
	kindOther keyKind = iota
	kindURL
	kindRepo
)

// kindOf 按名称判断字段形态，同时匹配两者时（如 repo_url）视为 URL
func kindOf(key string) keyKind {
	switch {
	case urlKeyPattern.MatchString(key):
		return kindURL
	case repoKeyPattern.MatchString(key):
		return kindRepo
	}
	return kindOther
}

// Schema 是工具 inputSchema 中本包关心的部分：required 与各属性的 type。
type Schema struct {
	Required   []string
	Properties map[string]string
	order      []string
}

// ParseSchema 从 JSON-schema 风格的 map 中提取 required 与属性类型。
// 属性按名称排序，保证摘要与候选生成的结果稳定。
func ParseSchema(raw map[string]any) Schema {
	s := Schema{Properties: map[string]string{}}
	if raw == nil {
		return s
	}

	switch req := raw["required"].(type) {
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok && name != "" {
				s.Required = append(s.Required, name)
			}
		}
	case []string:
		s.Required = append(s.Required, req...)
	}

	if props, ok := raw["properties"].(map[string]any); ok {
		for name, def := range props {
			typ := ""
			if m, ok := def.(map[string]any); ok {
				switch t := m["type"].(type) {
				case string:
					typ = t
				case []any:
					// ["string","null"] 之类的联合类型取第一个非 null
					for _, v := range t {
						if str, ok := v.(string); ok && str != "null" {
							typ = str
							break
						}
					}
				}
			}
			s.Properties[name] = typ
			s.order = append(s.order, name)
		}
		sort.Strings(s.order)
	}
	return s
}

// Keys 返回属性名（排序后）
func (s Schema) Keys() []string {
	return s.order
}

// HasProperty 判断 schema 是否声明了该属性
func (s Schema) HasProperty(name string) bool {
	_, ok := s.Properties[name]
	return ok
}

// IsRequired 判断字段是否必填
func (s Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Summary 返回紧凑的 schema 摘要：必填字段加 name:type 对，超过上限时截断。
func (s Schema) Summary() string {
	var sb strings.Builder
	sb.WriteString("required [")
	sb.WriteString(strings.Join(s.Required, ", "))
	sb.WriteString("]")

	if len(s.order) == 0 {
		return sb.String()
	}
	pairs := make([]string, 0, maxSummaryFields)
	for i, name := range s.order {
		if i == maxSummaryFields {
			break
		}
		typ := s.Properties[name]
		if typ == "" {
			typ = "any"
		}
		pairs = append(pairs, name+":"+typ)
	}
	sb.WriteString("; properties ")
	sb.WriteString(strings.Join(pairs, ", "))
	if extra := len(s.order) - maxSummaryFields; extra > 0 {
		sb.WriteString(fmt.Sprintf(" (+%d more)", extra))
	}
	return sb.String()
}
