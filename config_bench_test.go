package jacc_test

import (
	"fmt"
	"testing"

	"github.com/oarkflow/jacc"
)

// Generate test config with N contexts of M grants each
func generateTestConfig(numContexts, numGrants int) *jacc.Config {
	b := jacc.NewConfigBuilder()
	for i := 0; i < numContexts; i++ {
		id := fmt.Sprintf("module-%d", i)
		for j := 0; j < numGrants; j++ {
			b.Grant(id, jacc.NewGrantBuilder().
				CodeSource(fmt.Sprintf("file:/apps/%d/%d.jar", i, j), "signer").
				Raw(fmt.Sprintf("file /data/%d/- read,write", j), "socket *.internal:8000-9000 connect"))
		}
	}
	return b.Build()
}

func BenchmarkLoadYAML(b *testing.B) {
	data, err := generateTestConfig(10, 20).ToYAML()
	if err != nil {
		b.Fatal(err)
	}
	loader := jacc.NewConfigLoader()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = loader.LoadYAML(data)
	}
}

func BenchmarkLoadJSON(b *testing.B) {
	data, err := generateTestConfig(10, 20).ToJSON()
	if err != nil {
		b.Fatal(err)
	}
	loader := jacc.NewConfigLoader()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = loader.LoadJSON(data)
	}
}

func BenchmarkApplyConfig(b *testing.B) {
	cfg := generateTestConfig(10, 20)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = jacc.NewMemoryPolicyFromConfig(cfg)
	}
}
