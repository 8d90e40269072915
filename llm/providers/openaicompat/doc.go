// Package openaicompat provides the streaming provider for OpenAI-compatible
// chat completion APIs.
//
// Tools are sent as OpenAI "function" tools; assistant turns that only call
// tools carry a null content; tool results travel as "tool" role messages.
// The SSE response is decoded from choices[0].delta, with tool-call fragments
// reported by their positional index.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    BaseProviderConfig: providers.BaseProviderConfig{
//	        ProviderName: "deepseek",
//	        APIKey:       cfg.APIKey,
//	        BaseURL:      "https://api.deepseek.com",
//	        Model:        "deepseek-chat",
//	    },
//	}, logger)
package openaicompat
