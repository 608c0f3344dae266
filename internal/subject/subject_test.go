package subject

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestU_Parse_SlashForm(t *testing.T) {
	s, err := Parse("/C=US/ST=Illinois/L=Chicago/O=Org/CN=langui.sh")
	require.NoError(t, err)
	require.Len(t, s, 5)
	assert.Equal(t, Item{Name: "C", Value: "US"}, s[0])
	assert.Equal(t, Item{Name: "CN", Value: "langui.sh"}, s[4])
	assert.Equal(t, "/C=US/ST=Illinois/L=Chicago/O=Org/CN=langui.sh", s.String())
}

func TestU_Parse_CommaFormWithEscapes(t *testing.T) {
	s, err := Parse(`CN=example.com, O=Example\, Inc., OU=a=b`)
	require.NoError(t, err)
	require.Len(t, s, 3)

	o, ok := s.Get("organizationName")
	require.True(t, ok)
	assert.Equal(t, "Example, Inc.", o)

	ou, _ := s.Get("OU")
	assert.Equal(t, "a=b", ou)
}

func TestU_Parse_Errors(t *testing.T) {
	for _, dn := range []string{"CN", "/=x", `CN=a\`} {
		_, err := Parse(dn)
		assert.Error(t, err, dn)
	}
}

func TestU_Parse_Empty(t *testing.T) {
	s, err := Parse("  ")
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestU_String_EscapesSeparator(t *testing.T) {
	s, _ := New("CN", "a/b")
	assert.Equal(t, `/CN=a\/b`, s.String())

	back, err := Parse(s.String())
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestU_Subject_Names(t *testing.T) {
	s, _ := New("OU", "a", "cn", "x", "ou", "b")
	assert.Equal(t, []string{"OU", "CN"}, s.Names())
}

func TestU_Subject_AddDoesNotAlias(t *testing.T) {
	base := make(Subject, 0, 4)
	base = base.Add("CN", "x")
	a := base.Add("O", "a")
	b := base.Add("O", "b")
	assert.Equal(t, "a", a[1].Value)
	assert.Equal(t, "b", b[1].Value)
}

func TestU_New_OddArgs(t *testing.T) {
	_, err := New("CN")
	assert.Error(t, err)
}

func TestU_ToPKIXName_PreservesOrder(t *testing.T) {
	s, _ := New("C", "US", "O", "Org", "CN", "host", "1.2.3.4", "custom")
	name, err := s.ToPKIXName()
	require.NoError(t, err)
	require.Len(t, name.ExtraNames, 4)
	assert.True(t, name.ExtraNames[0].Type.Equal(oidCountry))
	assert.True(t, name.ExtraNames[2].Type.Equal(oidCommonName))
	assert.True(t, name.ExtraNames[3].Type.Equal(asn1.ObjectIdentifier{1, 2, 3, 4}))
}

func TestU_ToPKIXName_UnknownName(t *testing.T) {
	s, _ := New("nickname", "x")
	_, err := s.ToPKIXName()
	assert.Error(t, err)
}

func TestU_FromPKIXName(t *testing.T) {
	name := pkix.Name{}
	name.Names = []pkix.AttributeTypeAndValue{
		{Type: oidCommonName, Value: "host"},
		{Type: oidOrganization, Value: "Org"},
		{Type: asn1.ObjectIdentifier{1, 2, 3}, Value: "z"},
	}
	s := FromPKIXName(name)
	assert.Equal(t, Subject{
		{Name: "CN", Value: "host"},
		{Name: "O", Value: "Org"},
		{Name: "1.2.3", Value: "z"},
	}, s)
}
