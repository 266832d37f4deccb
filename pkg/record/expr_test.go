package record

import (
	"errors"
	"testing"
)

func evalOn(t *testing.T, e Expr, s *Schema, rec *Record) Value {
	t.Helper()
	v, err := e.Eval(s, rec)
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	return v
}

func TestExprComparisons(t *testing.T) {
	s := testSchema(t, false)
	rec := NewRecord(s)
	rec.SetAttr(s, 0, IntValue(5))
	rec.SetAttr(s, 1, StringValue("abc"))
	rec.SetAttr(s, 2, IntValue(9))

	cases := []struct {
		name string
		expr Expr
		want bool
	}{
		{"eq true", Equals(Attr(0), Const(IntValue(5))), true},
		{"eq false", Equals(Attr(0), Const(IntValue(6))), false},
		{"lt true", Less(Attr(0), Const(IntValue(6))), true},
		{"lt false", Less(Attr(0), Const(IntValue(5))), false},
		{"string eq", Equals(Attr(1), Const(StringValue("abc"))), true},
		{"not", Not(Equals(Attr(0), Const(IntValue(5)))), false},
		{"and", And(Less(Attr(0), Attr(2)), Equals(Attr(0), Const(IntValue(5)))), true},
		{"or", Or(Equals(Attr(0), Const(IntValue(1))), Equals(Attr(2), Const(IntValue(9)))), true},
	}
	for _, c := range cases {
		v := evalOn(t, c.expr, s, rec)
		if v.Type != TypeBool || v.Bool != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, v)
		}
	}
}

func TestExprTypeMismatch(t *testing.T) {
	s := testSchema(t, false)
	rec := NewRecord(s)
	rec.SetAttr(s, 0, IntValue(5))

	if _, err := Equals(Attr(0), Const(StringValue("x"))).Eval(s, rec); !errors.Is(err, ErrInvalidAttr) {
		t.Errorf("Expected ErrInvalidAttr for cross-type equality, got %v", err)
	}
	if _, err := And(Attr(0), Const(BoolValue(true))).Eval(s, rec); !errors.Is(err, ErrInvalidAttr) {
		t.Errorf("Expected ErrInvalidAttr for AND over INT, got %v", err)
	}
	if _, err := Not(Attr(0)).Eval(s, rec); !errors.Is(err, ErrInvalidAttr) {
		t.Errorf("Expected ErrInvalidAttr for NOT over INT, got %v", err)
	}
}

func TestExprNullComparesFalse(t *testing.T) {
	s := testSchema(t, false)
	rec := NewRecord(s)
	rec.SetAttr(s, 0, NullValue(TypeInt))

	v := evalOn(t, Equals(Attr(0), Const(IntValue(0))), s, rec)
	if v.Bool {
		t.Error("Expected NULL = 0 to be false")
	}
	v = evalOn(t, Less(Attr(0), Const(IntValue(1))), s, rec)
	if v.Bool {
		t.Error("Expected NULL < 1 to be false")
	}
}

func TestExprFloat(t *testing.T) {
	s, err := NewSchema([]string{"f"}, []DataType{TypeFloat}, []int32{0}, nil)
	if err != nil {
		t.Fatalf("Failed to build schema: %v", err)
	}
	rec := NewRecord(s)
	rec.SetAttr(s, 0, FloatValue(2.5))

	v := evalOn(t, Less(Attr(0), Const(FloatValue(3))), s, rec)
	if !v.Bool {
		t.Error("Expected 2.5 < 3")
	}
	v = evalOn(t, Equals(Attr(0), Const(FloatValue(2.5))), s, rec)
	if !v.Bool {
		t.Error("Expected 2.5 = 2.5")
	}
}
