package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Types ---

func TestStructFields(t *testing.T) {
	t.Parallel()
	customer := NewStruct("Customer", Field{"CustomerID", String}, Field{"City", String})
	order := NewStruct("Order", Field{"OrderID", Int})
	customer.Define(Field{"Orders", SeqOf(order)})

	f, ok := customer.Field("Orders")
	require.True(t, ok)
	assert.Equal(t, "[]Order", f.Type.String())
	assert.Equal(t, 1, customer.FieldIndex("City"))
	assert.Equal(t, -1, customer.FieldIndex("Missing"))
}

func TestAnonStructString(t *testing.T) {
	t.Parallel()
	s := Anon(Field{"Name", String}, Field{"Total", Nullable(Decimal)})
	assert.Equal(t, "{Name string, Total decimal?}", s.String())
}

func TestSame(t *testing.T) {
	t.Parallel()
	a := Anon(Field{"X", Int})
	b := Anon(Field{"X", Int})
	c := Anon(Field{"X", Float})
	assert.True(t, Same(a, b))
	assert.False(t, Same(a, c))
	assert.True(t, Same(SeqOf(Int), SeqOf(Int)))
	assert.False(t, Same(Int, Nullable(Int)))
}

func TestParseScalar(t *testing.T) {
	t.Parallel()
	typ, err := ParseScalar("int")
	require.NoError(t, err)
	assert.Same(t, Int, typ)

	typ, err = ParseScalar(" string? ")
	require.NoError(t, err)
	assert.Equal(t, "string?", typ.String())

	_, err = ParseScalar("varchar")
	assert.EqualError(t, err, `unknown type "varchar"`)
}

// --- Values ---

func TestZero(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(0), Zero(Int))
	assert.Equal(t, "", Zero(String))
	assert.Equal(t, false, Zero(Bool))
	assert.Equal(t, uuid.Nil, Zero(UUID))
	assert.Nil(t, Zero(Nullable(Int)))
	assert.Nil(t, Zero(NewStruct("Customer")))
}

func TestConvert(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   any
		typ  Type
		want any
	}{
		{"int from int32", int32(7), Int, int64(7)},
		{"int from text", []byte("42"), Int, int64(42)},
		{"float from int", int64(3), Float, float64(3)},
		{"bool from int", int64(1), Bool, true},
		{"string from bytes", []byte("London"), String, "London"},
		{"null int", nil, Int, int64(0)},
		{"null nullable", nil, Nullable(Int), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.in, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertDecimalTimeUUID(t *testing.T) {
	t.Parallel()
	d, err := Convert("12.5000", Decimal)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(d.(decimal.Decimal)))

	tm, err := Convert("1997-08-25 00:00:00", Time)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1997, 8, 25, 0, 0, 0, 0, time.UTC), tm)

	id := uuid.New()
	u, err := Convert(id.String(), UUID)
	require.NoError(t, err)
	assert.Equal(t, id, u)

	_, err = Convert("x", Int)
	assert.Error(t, err)
}

func TestRecord(t *testing.T) {
	t.Parallel()
	s := NewStruct("Customer", Field{"CustomerID", String}, Field{"Age", Int})
	r := RecordOf(s, "CustomerID", "ALFKI")
	assert.Equal(t, "ALFKI", r.Get("CustomerID"))
	assert.Equal(t, int64(0), r.Get("Age"))
	assert.Nil(t, r.Get("Nope"))
	assert.Equal(t, `Customer{CustomerID: "ALFKI", Age: 0}`, r.String())
}

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Key(int64(3)), Key(3))
	assert.Equal(t, Key(float64(3)), Key(int64(3)))
	assert.Equal(t, Key("a", int64(1)), Key("a", 1))
	assert.NotEqual(t, Key("a", int64(1)), Key("a", int64(2)))
	assert.Equal(t, Key([]byte("x")), Key("x"))
}
