package formula

import (
	"strings"
)

// Render writes a parsed formula back out as text, without the leading
// '='. whitespace captured by the parser is reproduced exactly.
func Render(node Node, sheets SheetResolver) string {
	var sb strings.Builder
	render(&sb, node, sheets)
	return sb.String()
}

func render(sb *strings.Builder, node Node, sheets SheetResolver) {
	switch n := node.(type) {
	case *NumberNode:
		sb.WriteString(n.Space)
		if n.Text != "" {
			sb.WriteString(n.Text)
		} else {
			sb.WriteString(formatNumber(n.Value))
		}
	case *StringNode:
		sb.WriteString(n.Space)
		sb.WriteByte('"')
		sb.WriteString(strings.ReplaceAll(n.Value, `"`, `""`))
		sb.WriteByte('"')
	case *BooleanNode:
		sb.WriteString(n.Space)
		if n.Value {
			sb.WriteString("TRUE")
		} else {
			sb.WriteString("FALSE")
		}
	case *ErrorNode:
		sb.WriteString(n.Space)
		sb.WriteString(n.Code.String())
	case *RefNode:
		sb.WriteString(n.Space)
		writeRef(sb, n.Ref, sheets)
	case *RefErrorNode:
		sb.WriteString(n.Space)
		if n.Sheet != 0 && sheets != nil {
			if name, ok := sheets.SheetName(n.Sheet); ok {
				sb.WriteString(sheetPrefix("", name, ""))
			}
		}
		sb.WriteString(ErrorCodeRef.String())
	case *NameNode:
		sb.WriteString(n.Space)
		sb.WriteString(n.Name)
	case *UnaryNode:
		if n.Op == UnaryOpPercent {
			render(sb, n.Operand, sheets)
			sb.WriteString(n.Space)
			sb.WriteByte('%')
			return
		}
		sb.WriteString(n.Space)
		sb.WriteString(n.Op.String())
		render(sb, n.Operand, sheets)
	case *BinaryNode:
		render(sb, n.Left, sheets)
		sb.WriteString(n.OpSpace)
		sb.WriteString(n.Op.String())
		render(sb, n.Right, sheets)
	case *ParenNode:
		sb.WriteString(n.Space)
		sb.WriteByte('(')
		render(sb, n.Inner, sheets)
		sb.WriteString(n.CloseSpace)
		sb.WriteByte(')')
	case *FunctionNode:
		sb.WriteString(n.Space)
		sb.WriteString(n.Name)
		sb.WriteByte('(')
		for i, arg := range n.Args {
			render(sb, arg, sheets)
			if i < len(n.Args)-1 {
				if i < len(n.CommaSpace) {
					sb.WriteString(n.CommaSpace[i])
				}
				sb.WriteByte(',')
			}
		}
		sb.WriteString(n.CloseSpace)
		sb.WriteByte(')')
	case *MissingArgNode:
	}
}
