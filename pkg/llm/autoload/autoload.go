// Package autoload registers every built-in LLM provider factory.
// Import for side effects:
//
//	import _ "aviary/pkg/llm/autoload"
package autoload

import (
	_ "aviary/pkg/llm/geminillm"
	_ "aviary/pkg/llm/ollamallm"
	_ "aviary/pkg/llm/openaillm"
)
