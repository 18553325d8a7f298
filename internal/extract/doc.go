// Package extract turns message bodies into queryable documents and evaluates
// extractor expressions against them.
//
// A Format couples a body parser with an expression language:
//
//   - "xml": bodies are parsed as XML and expressions are XPath 1.0
//     (e.g. "/Envelope/Header/MsgInfo/Type/@V"). The result is the XPath
//     string value of the expression.
//   - "json": bodies are parsed as JSON and expressions are gjson paths
//     (e.g. "header.msgInfo.type").
//
// In both formats an expression that addresses nothing evaluates to the empty
// string rather than an error. Errors are reserved for bodies that do not parse
// and for expressions that fail at runtime.
//
// Compiled expressions are not safe for concurrent use; every route worker
// compiles its own.
package extract
