package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aeolun/wired/pkg/spec"
)

const typesDocument = `<?xml version="1.0" encoding="UTF-8"?>
<p7:protocol xmlns:p7="http://wired.read-write.fr/P7/Specification" name="Types" version="1.0">
  <p7:fields>
    <p7:field name="t.bool" type="bool" id="100" />
    <p7:field name="t.enum" type="enum" id="101">
      <p7:enum name="t.enum.one" value="1" />
      <p7:enum name="t.enum.two" value="2" />
    </p7:field>
    <p7:field name="t.int8" type="int8" id="102" />
    <p7:field name="t.int16" type="int16" id="103" />
    <p7:field name="t.int32" type="int32" id="104" />
    <p7:field name="t.int64" type="int64" id="105" />
    <p7:field name="t.uint8" type="uint8" id="106" />
    <p7:field name="t.uint16" type="uint16" id="107" />
    <p7:field name="t.uint32" type="uint32" id="108" />
    <p7:field name="t.uint64" type="uint64" id="109" />
    <p7:field name="t.double" type="double" id="110" />
    <p7:field name="t.string" type="string" id="111" />
    <p7:field name="t.uuid" type="uuid" id="112" />
    <p7:field name="t.date" type="date" id="113" />
    <p7:field name="t.data" type="data" id="114" />
    <p7:field name="t.oobdata" type="oobdata" id="115" />
    <p7:field name="t.list" type="list" id="116" />
    <p7:field name="t.extra" type="string" id="117" />
  </p7:fields>
  <p7:messages>
    <p7:message name="t.all" id="100">
      <p7:parameter field="t.bool" />
      <p7:parameter field="t.enum" />
      <p7:parameter field="t.int8" />
      <p7:parameter field="t.int16" />
      <p7:parameter field="t.int32" />
      <p7:parameter field="t.int64" />
      <p7:parameter field="t.uint8" />
      <p7:parameter field="t.uint16" />
      <p7:parameter field="t.uint32" />
      <p7:parameter field="t.uint64" />
      <p7:parameter field="t.double" />
      <p7:parameter field="t.string" />
      <p7:parameter field="t.uuid" />
      <p7:parameter field="t.date" />
      <p7:parameter field="t.data" />
      <p7:parameter field="t.oobdata" />
      <p7:parameter field="t.list" />
    </p7:message>
    <p7:message name="t.required" id="101">
      <p7:parameter field="t.string" use="required" />
      <p7:parameter field="t.uint32" />
    </p7:message>
  </p7:messages>
</p7:protocol>`

func typesCatalog(t testing.TB) *spec.Catalog {
	t.Helper()
	c, err := spec.LoadBytes([]byte(typesDocument))
	require.NoError(t, err)
	return c
}

func wiredCatalog(t testing.TB) *spec.Catalog {
	t.Helper()
	c, err := spec.Default()
	require.NoError(t, err)
	return c
}
