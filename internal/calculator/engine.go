package calculator

import (
	"math"
	"strconv"
	"strings"
)

// errorDisplay is the display value shown while the engine is in its
// absorbing error state.
const errorDisplay = "Error"

// maxEntryLength is the hard cap on the number of characters in a
// composed entry. Digits past the cap are silently dropped.
const maxEntryLength = 15

// Operator identifies a pending binary operation.
type Operator string

const (
	OpAdd      Operator = "+"
	OpSubtract Operator = "-"
	OpMultiply Operator = "×"
	OpDivide   Operator = "÷"
	OpPower    Operator = "^"
)

// UnaryOp identifies a unary scientific operation. Unary operations act
// on the visible entry only and never touch a pending binary operation.
type UnaryOp string

const (
	UnarySquare UnaryOp = "square"
	UnarySqrt   UnaryOp = "sqrt"
	UnarySin    UnaryOp = "sin"
	UnaryCos    UnaryOp = "cos"
	UnaryTan    UnaryOp = "tan"
	UnaryLog10  UnaryOp = "log"
	UnaryLn     UnaryOp = "ln"
)

// Recorder receives a history entry for every completed finite equals.
type Recorder interface {
	RecordResult(total float64, calculation string)
}

// State is a read-only snapshot of the engine.
type State struct {
	Display         string `json:"display"`
	Trace           string `json:"trace"`
	PendingOperator string `json:"pending_operator,omitempty"`
	WaitingForEntry bool   `json:"waiting_for_entry"`
	Error           bool   `json:"error"`
}

// Engine is a single-register calculator state machine: one displayed
// entry, at most one stashed left operand and pending operator, and a
// textual trace of the computation so far. All methods are synchronous
// and the zero value is not usable; use NewEngine.
type Engine struct {
	display     string
	previous    float64
	hasPrevious bool
	operator    Operator
	waiting     bool
	trace       string

	recorder Recorder
}

// NewEngine creates an engine in the identity state. recorder may be nil,
// in which case completed computations are not recorded anywhere.
func NewEngine(recorder Recorder) *Engine {
	e := &Engine{recorder: recorder}
	e.Reset()
	return e
}

// Reset returns the engine to the identity state: display "0", no stashed
// operand, no pending operator, empty trace.
func (e *Engine) Reset() {
	e.display = "0"
	e.previous = 0
	e.hasPrevious = false
	e.operator = ""
	e.waiting = false
	e.trace = ""
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	return State{
		Display:         e.display,
		Trace:           e.trace,
		PendingOperator: string(e.operator),
		WaitingForEntry: e.waiting,
		Error:           e.inError(),
	}
}

// Display returns the current display value.
func (e *Engine) Display() string {
	return e.display
}

func (e *Engine) inError() bool {
	return e.display == errorDisplay
}

func (e *Engine) enterError() {
	e.display = errorDisplay
	e.previous = 0
	e.hasPrevious = false
	e.operator = ""
	e.waiting = false
}

// entry returns the displayed entry as a number.
func (e *Engine) entry() float64 {
	v, err := strconv.ParseFloat(e.display, 64)
	if err != nil {
		return 0
	}
	return v
}

// InputDigit appends a digit to the current entry. Entering a digit is
// the one input that exits the error state.
func (e *Engine) InputDigit(d byte) {
	if d < '0' || d > '9' {
		return
	}
	if e.inError() || e.waiting {
		e.display = string(d)
		e.waiting = false
		return
	}
	if len(e.display) >= maxEntryLength {
		return
	}
	if e.display == "0" {
		e.display = string(d)
		return
	}
	e.display += string(d)
}

// InputDecimal inserts the decimal point, at most once per entry.
func (e *Engine) InputDecimal() {
	if e.inError() {
		return
	}
	if e.waiting {
		e.display = "0."
		e.waiting = false
		return
	}
	if !strings.Contains(e.display, ".") {
		e.display += "."
	}
}

// ApplyOperator stashes op as the pending binary operator. A pending
// operation is resolved first, its result becoming the new left operand.
func (e *Engine) ApplyOperator(op Operator) {
	if e.inError() {
		return
	}
	current := e.entry()

	if e.operator != "" && e.hasPrevious {
		result := calculate(e.previous, e.operator, current)
		if !isFinite(result) {
			e.enterError()
			return
		}
		e.previous = result
		e.display = formatNumber(result)
	} else {
		e.previous = current
		e.hasPrevious = true
	}

	e.trace += formatNumber(e.previous) + " " + string(op) + " "
	e.operator = op
	e.waiting = true
}

// Equals resolves the pending operation, records a manual history entry,
// and clears the pending operator. No-op without a pending operator.
func (e *Engine) Equals() {
	if e.inError() || e.operator == "" || !e.hasPrevious {
		return
	}
	left := e.previous
	right := e.entry()
	op := e.operator

	result := calculate(left, op, right)
	if !isFinite(result) {
		e.enterError()
		return
	}

	calculation := formatNumber(left) + " " + string(op) + " " + formatNumber(right)
	e.display = formatNumber(result)
	e.trace = calculation + " ="
	e.previous = 0
	e.hasPrevious = false
	e.operator = ""
	e.waiting = true

	if e.recorder != nil {
		e.recorder.RecordResult(result, calculation)
	}
}

// ApplyUnary applies a unary scientific operation to the visible entry.
// Trig operations interpret the entry as degrees. A pending binary
// operation is left untouched.
func (e *Engine) ApplyUnary(op UnaryOp) {
	if e.inError() {
		return
	}
	v := e.entry()

	var result float64
	switch op {
	case UnarySquare:
		result = v * v
	case UnarySqrt:
		result = math.Sqrt(v)
	case UnarySin:
		result = math.Sin(v * math.Pi / 180)
	case UnaryCos:
		result = math.Cos(v * math.Pi / 180)
	case UnaryTan:
		result = math.Tan(v * math.Pi / 180)
	case UnaryLog10:
		result = math.Log10(v)
	case UnaryLn:
		result = math.Log(v)
	default:
		return
	}

	if !isFinite(result) {
		e.enterError()
		return
	}
	e.display = formatNumber(result)
	e.waiting = true
}

// LoadConstant loads π or e into the display as a fresh entry. From the
// error state the engine is fully reset first.
func (e *Engine) LoadConstant(name string) {
	if e.inError() {
		e.Reset()
	}
	switch name {
	case "pi":
		e.display = formatNumber(math.Pi)
	case "e":
		e.display = formatNumber(math.E)
	default:
		return
	}
	e.waiting = false
}

// ToggleSign negates the current entry unless it is zero.
func (e *Engine) ToggleSign() {
	if e.inError() || e.entry() == 0 {
		return
	}
	if strings.HasPrefix(e.display, "-") {
		e.display = strings.TrimPrefix(e.display, "-")
	} else {
		e.display = "-" + e.display
	}
}

// Percent divides the current entry by 100 in place.
func (e *Engine) Percent() {
	if e.inError() {
		return
	}
	e.display = formatNumber(e.entry() / 100)
}

// Backspace removes the last character of the current entry.
func (e *Engine) Backspace() {
	if e.inError() || e.waiting {
		return
	}
	e.display = e.display[:len(e.display)-1]
	if e.display == "" || e.display == "-" {
		e.display = "0"
	}
}

// ClearEntry resets only the displayed entry. From the error state it is
// a full reset.
func (e *Engine) ClearEntry() {
	if e.inError() {
		e.Reset()
		return
	}
	e.display = "0"
	e.waiting = false
}

// ClearAll resets the entire engine state.
func (e *Engine) ClearAll() {
	e.Reset()
}

// LoadTotal folds an externally computed total into the engine as a
// completed computation: the pending operation is discarded, the display
// shows the total and the trace is replaced wholesale.
func (e *Engine) LoadTotal(total float64, trace string) {
	e.display = formatNumber(total)
	e.previous = 0
	e.hasPrevious = false
	e.operator = ""
	e.waiting = true
	e.trace = trace
}

// calculate applies a binary operator. Non-finite results are returned
// as-is; the caller decides how to fail.
func calculate(left float64, op Operator, right float64) float64 {
	switch op {
	case OpAdd:
		return left + right
	case OpSubtract:
		return left - right
	case OpMultiply:
		return left * right
	case OpDivide:
		return left / right
	case OpPower:
		return math.Pow(left, right)
	}
	return math.NaN()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// formatNumber renders a float the way the display shows it: the
// shortest decimal form that round-trips.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
