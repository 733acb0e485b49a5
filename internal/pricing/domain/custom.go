package domain

import (
	"strings"
	"time"
)

// CalcContext carries the request-time inputs custom calculators price
// against. At defaults to the current time when zero.
type CalcContext struct {
	At      time.Time `json:"at,omitempty"`
	Segment string    `json:"segment,omitempty"`
}

func (c CalcContext) at() time.Time {
	if c.At.IsZero() {
		return time.Now().UTC()
	}
	return c.At.UTC()
}

// CustomKind selects the custom calculator variant.
type CustomKind string

const (
	CustomTimeOfDay   CustomKind = "time_of_day"
	CustomSeason      CustomKind = "season"
	CustomSegment     CustomKind = "segment"
	CustomConditional CustomKind = "conditional"
	CustomFormula     CustomKind = "formula"
)

// CustomCalculator is a closed, serializable operator tree replacing the
// arbitrary callables of ad-hoc pricing: one variant is populated per
// the Kind tag.
type CustomCalculator struct {
	Kind        CustomKind          `json:"kind"`
	TimeOfDay   *TimeOfDayPricing   `json:"time_of_day,omitempty"`
	Season      *SeasonPricing      `json:"season,omitempty"`
	Segment     *SegmentPricing     `json:"segment,omitempty"`
	Conditional *ConditionalPricing `json:"conditional,omitempty"`
	Formula     *Expr               `json:"formula,omitempty"`
}

// Cost dispatches to the populated variant.
func (c *CustomCalculator) Cost(cctx CalcContext, quantity float64) (float64, error) {
	switch c.Kind {
	case CustomTimeOfDay:
		if c.TimeOfDay == nil {
			return 0, ErrInvalidRule
		}
		return c.TimeOfDay.Cost(cctx, quantity), nil
	case CustomSeason:
		if c.Season == nil {
			return 0, ErrInvalidRule
		}
		return c.Season.Cost(cctx, quantity), nil
	case CustomSegment:
		if c.Segment == nil {
			return 0, ErrInvalidRule
		}
		return c.Segment.Cost(cctx, quantity), nil
	case CustomConditional:
		if c.Conditional == nil {
			return 0, ErrInvalidRule
		}
		return c.Conditional.Cost(cctx, quantity)
	case CustomFormula:
		if c.Formula == nil {
			return 0, ErrInvalidRule
		}
		return c.Formula.Eval(quantity)
	}
	return 0, ErrInvalidRule
}

// TimeOfDayPricing charges a peak multiplier during the configured
// hours. Peak hours are [PeakStartHour, PeakEndHour) in UTC.
type TimeOfDayPricing struct {
	BaseRate       float64 `json:"base_rate"`
	PeakMultiplier float64 `json:"peak_multiplier"`
	PeakStartHour  int     `json:"peak_start_hour"`
	PeakEndHour    int     `json:"peak_end_hour"`
}

func (p *TimeOfDayPricing) Cost(cctx CalcContext, quantity float64) float64 {
	rate := p.BaseRate
	hour := cctx.at().Hour()
	if hour >= p.PeakStartHour && hour < p.PeakEndHour {
		rate *= p.PeakMultiplier
	}
	return quantity * rate
}

// MonthMultiplier scales the base rate during one calendar month.
type MonthMultiplier struct {
	Month      int     `json:"month"`
	Multiplier float64 `json:"multiplier"`
}

// SeasonPricing scales the base rate by calendar month.
type SeasonPricing struct {
	BaseRate    float64           `json:"base_rate"`
	Multipliers []MonthMultiplier `json:"multipliers,omitempty"`
}

func (p *SeasonPricing) Cost(cctx CalcContext, quantity float64) float64 {
	rate := p.BaseRate
	month := int(cctx.at().Month())
	for _, m := range p.Multipliers {
		if m.Month == month {
			rate *= m.Multiplier
			break
		}
	}
	return quantity * rate
}

// SegmentPricing charges per customer segment, with a default rate for
// unknown segments.
type SegmentPricing struct {
	Rates       map[string]float64 `json:"rates"`
	DefaultRate float64            `json:"default_rate"`
}

func (p *SegmentPricing) Cost(cctx CalcContext, quantity float64) float64 {
	rate, ok := p.Rates[strings.ToLower(strings.TrimSpace(cctx.Segment))]
	if !ok {
		rate = p.DefaultRate
	}
	return quantity * rate
}

// ConditionalPricing picks between two per-unit rates based on a
// condition tree.
type ConditionalPricing struct {
	When     Condition `json:"when"`
	ThenRate float64   `json:"then_rate"`
	ElseRate float64   `json:"else_rate"`
}

func (p *ConditionalPricing) Cost(cctx CalcContext, quantity float64) (float64, error) {
	matched, err := p.When.Eval(cctx, quantity)
	if err != nil {
		return 0, err
	}
	if matched {
		return quantity * p.ThenRate, nil
	}
	return quantity * p.ElseRate, nil
}

// ConditionOp is a comparison or combinator in a condition tree.
type ConditionOp string

const (
	OpEq  ConditionOp = "eq"
	OpNe  ConditionOp = "ne"
	OpGt  ConditionOp = "gt"
	OpGte ConditionOp = "gte"
	OpLt  ConditionOp = "lt"
	OpLte ConditionOp = "lte"
	OpAnd ConditionOp = "and"
	OpOr  ConditionOp = "or"
	OpNot ConditionOp = "not"
)

// ConditionField is the request attribute a comparison reads.
type ConditionField string

const (
	FieldQuantity ConditionField = "quantity"
	FieldHour     ConditionField = "hour"
	FieldWeekday  ConditionField = "weekday"
	FieldMonth    ConditionField = "month"
	FieldSegment  ConditionField = "segment"
)

// Condition is a whitelisted comparison tree. Comparisons set Field and
// Value; combinators set Children.
type Condition struct {
	Op       ConditionOp    `json:"op"`
	Field    ConditionField `json:"field,omitempty"`
	Value    float64        `json:"value,omitempty"`
	Segment  string         `json:"segment,omitempty"`
	Children []Condition    `json:"children,omitempty"`
}

// Eval evaluates the tree against the calculation context.
func (c Condition) Eval(cctx CalcContext, quantity float64) (bool, error) {
	switch c.Op {
	case OpAnd:
		for _, child := range c.Children {
			ok, err := child.Eval(cctx, quantity)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, child := range c.Children {
			ok, err := child.Eval(cctx, quantity)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case OpNot:
		if len(c.Children) != 1 {
			return false, ErrInvalidCondition
		}
		ok, err := c.Children[0].Eval(cctx, quantity)
		return !ok, err
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if c.Field == FieldSegment {
			return c.compareSegment(cctx.Segment)
		}
		left, err := c.fieldValue(cctx, quantity)
		if err != nil {
			return false, err
		}
		return c.compare(left), nil
	}
	return false, ErrInvalidCondition
}

func (c Condition) fieldValue(cctx CalcContext, quantity float64) (float64, error) {
	at := cctx.at()
	switch c.Field {
	case FieldQuantity:
		return quantity, nil
	case FieldHour:
		return float64(at.Hour()), nil
	case FieldWeekday:
		return float64(at.Weekday()), nil
	case FieldMonth:
		return float64(at.Month()), nil
	}
	return 0, ErrInvalidCondition
}

func (c Condition) compare(left float64) bool {
	switch c.Op {
	case OpEq:
		return left == c.Value
	case OpNe:
		return left != c.Value
	case OpGt:
		return left > c.Value
	case OpGte:
		return left >= c.Value
	case OpLt:
		return left < c.Value
	case OpLte:
		return left <= c.Value
	}
	return false
}

func (c Condition) compareSegment(segment string) (bool, error) {
	equal := strings.EqualFold(strings.TrimSpace(segment), strings.TrimSpace(c.Segment))
	switch c.Op {
	case OpEq:
		return equal, nil
	case OpNe:
		return !equal, nil
	}
	return false, ErrInvalidCondition
}

// ExprOp is an arithmetic operator in a formula tree.
type ExprOp string

const (
	ExprAdd      ExprOp = "add"
	ExprSub      ExprOp = "sub"
	ExprMul      ExprOp = "mul"
	ExprDiv      ExprOp = "div"
	ExprMin      ExprOp = "min"
	ExprMax      ExprOp = "max"
	ExprQuantity ExprOp = "quantity"
	ExprConst    ExprOp = "const"
)

// Expr is a whitelisted arithmetic tree over the quantity and constants.
type Expr struct {
	Op    ExprOp  `json:"op"`
	Value float64 `json:"value,omitempty"`
	Args  []Expr  `json:"args,omitempty"`
}

// Eval evaluates the formula for a quantity.
func (e Expr) Eval(quantity float64) (float64, error) {
	switch e.Op {
	case ExprQuantity:
		return quantity, nil
	case ExprConst:
		return e.Value, nil
	case ExprAdd, ExprSub, ExprMul, ExprDiv, ExprMin, ExprMax:
		if len(e.Args) == 0 {
			return 0, ErrInvalidFormula
		}
		acc, err := e.Args[0].Eval(quantity)
		if err != nil {
			return 0, err
		}
		for _, arg := range e.Args[1:] {
			val, err := arg.Eval(quantity)
			if err != nil {
				return 0, err
			}
			switch e.Op {
			case ExprAdd:
				acc += val
			case ExprSub:
				acc -= val
			case ExprMul:
				acc *= val
			case ExprDiv:
				if val == 0 {
					return 0, ErrInvalidFormula
				}
				acc /= val
			case ExprMin:
				if val < acc {
					acc = val
				}
			case ExprMax:
				if val > acc {
					acc = val
				}
			}
		}
		return acc, nil
	}
	return 0, ErrInvalidFormula
}
