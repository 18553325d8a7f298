package extract

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"queue-router/internal/common/errors"
)

// XMLFormat parses XML bodies and evaluates XPath expressions
type XMLFormat struct{}

// Name implements Format
func (XMLFormat) Name() string { return "xml" }

// Parse implements Format. The body must be well formed: exactly one root element and
// nothing but whitespace, comments and processing instructions around it.
func (XMLFormat) Parse(body []byte) (Document, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, errors.ExtractionError("failed to parse XML document", err)
	}

	roots := 0
	for node := doc.FirstChild; node != nil; node = node.NextSibling {
		switch node.Type {
		case xmlquery.ElementNode:
			roots++
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if strings.TrimSpace(node.Data) != "" {
				return nil, errors.ExtractionError("content is not allowed outside the XML root element", nil)
			}
		}
	}

	switch roots {
	case 0:
		return nil, errors.ExtractionError("XML document has no root element", nil)
	case 1:
		return doc, nil
	default:
		return nil, errors.ExtractionError(fmt.Sprintf("XML document has %d root elements", roots), nil)
	}
}

// Compile implements Format
func (XMLFormat) Compile(expression string) (Expression, error) {
	expr, err := xpath.Compile(expression)
	if err != nil {
		return nil, errors.ExtractionError(fmt.Sprintf("invalid XPath expression %q", expression), err)
	}
	return &xpathExpression{source: expression, expr: expr}, nil
}

type xpathExpression struct {
	source string
	expr   *xpath.Expr
}

func (e *xpathExpression) String() string { return e.source }

func (e *xpathExpression) Evaluate(doc Document) (value string, err error) {
	node, ok := doc.(*xmlquery.Node)
	if !ok || node == nil {
		return "", errors.ExtractionError(fmt.Sprintf("XPath %q needs an XML document, got %T", e.source, doc), nil)
	}

	// xpath panics on some runtime type errors (e.g. functions applied to the wrong argument kind)
	defer func() {
		if r := recover(); r != nil {
			value = ""
			err = errors.ExtractionError(fmt.Sprintf("XPath %q failed: %v", e.source, r), nil)
		}
	}()

	switch result := e.expr.Evaluate(xmlquery.CreateXPathNavigator(node)).(type) {
	case *xpath.NodeIterator:
		if result.MoveNext() {
			return result.Current().Value(), nil
		}
		return "", nil
	case string:
		return result, nil
	case bool:
		return strconv.FormatBool(result), nil
	case float64:
		return formatNumber(result), nil
	default:
		return fmt.Sprintf("%v", result), nil
	}
}

// formatNumber renders numbers the way the XPath string() function does
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatInt(int64(f), 10)
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
