package tools

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
)

// CalculateTool evaluates a simple arithmetic expression, grounded on
// the CSV analysis tool's numeric-parsing idiom — no formula language,
// just the four basic operators, parentheses, and unary minus, which
// covers what a writing/analysis agent actually asks for ("what's 3.5%
// of 128000").
type CalculateTool struct{}

// NewCalculateTool creates the calculate tool.
func NewCalculateTool() *CalculateTool { return &CalculateTool{} }

func (t *CalculateTool) Name() string { return "calculate" }

func (t *CalculateTool) Description() string {
	return `Evaluate an arithmetic expression. Args: {"expression": "(128000 * 0.035) + 12"}`
}

func (t *CalculateTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	expr, ok := args["expression"].(string)
	if !ok || expr == "" {
		return "", fmt.Errorf("calculate requires an 'expression' argument")
	}
	result, err := evalArithmetic(expr)
	if err != nil {
		return "", fmt.Errorf("invalid expression: %w", err)
	}
	return fmt.Sprintf("%v", result), nil
}

// evalArithmetic parses expr as a Go expression (safe subset: +, -, *,
// /, parens, numeric literals) and evaluates it without invoking any
// Go runtime code — ast.Expr is walked directly, nothing is compiled
// or executed.
func evalArithmetic(expr string) (float64, error) {
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, err
	}
	return evalNode(node)
}

func evalNode(n ast.Expr) (float64, error) {
	switch e := n.(type) {
	case *ast.BasicLit:
		if e.Kind != token.INT && e.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal %q", e.Value)
		}
		var v float64
		if _, err := fmt.Sscanf(e.Value, "%g", &v); err != nil {
			return 0, err
		}
		return v, nil

	case *ast.ParenExpr:
		return evalNode(e.X)

	case *ast.UnaryExpr:
		x, err := evalNode(e.X)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		default:
			return 0, fmt.Errorf("unsupported unary operator %s", e.Op)
		}

	case *ast.BinaryExpr:
		x, err := evalNode(e.X)
		if err != nil {
			return 0, err
		}
		y, err := evalNode(e.Y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return x / y, nil
		default:
			return 0, fmt.Errorf("unsupported operator %s", e.Op)
		}

	default:
		return 0, fmt.Errorf("unsupported expression")
	}
}
