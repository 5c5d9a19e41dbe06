package calc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunSimpleArithmetic(t *testing.T) {
	r := NewRunner()
	out, err := r.Run(context.Background(), "import \"fmt\"\nfmt.Println(1000 * 24)")
	require.NoError(t, err)
	require.Equal(t, "24000", out)
}

func TestRunImportBlock(t *testing.T) {
	r := NewRunner()
	script := `import (
	"fmt"
	"math"
)
fmt.Println(math.Ceil(10.2))`
	out, err := r.Run(context.Background(), script)
	require.NoError(t, err)
	require.Equal(t, "11", out)
}

func TestRunMultipleStatements(t *testing.T) {
	r := NewRunner()
	script := `import "fmt"
dailyWrites := 100_000_000
qps := dailyWrites / 86400
fmt.Println("write qps:", qps)`
	out, err := r.Run(context.Background(), script)
	require.NoError(t, err)
	require.Equal(t, "write qps: 1157", out)
}

func TestRunFullProgram(t *testing.T) {
	r := NewRunner()
	script := `package main

import "fmt"

func main() {
	fmt.Println("storage GB:", 500*365*5)
}`
	out, err := r.Run(context.Background(), script)
	require.NoError(t, err)
	require.Equal(t, "storage GB: 912500", out)
}

func TestRunNoOutput(t *testing.T) {
	r := NewRunner()
	out, err := r.Run(context.Background(), "x := 40 + 2\n_ = x")
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestRunInvalidScript(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), "fmt.Println(1)")
	require.Error(t, err)
}

func TestRunEmptyScript(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), "   \n  ")
	require.Error(t, err)
}

func TestRunScriptTooLarge(t *testing.T) {
	r := NewRunner(WithMaxScriptSize(64))
	_, err := r.Run(context.Background(), strings.Repeat("x := 1\n", 100))
	require.Error(t, err)
	require.Contains(t, err.Error(), "limit")
}

func TestRunTimeout(t *testing.T) {
	r := NewRunner(WithTimeout(100 * time.Millisecond))
	script := `import "time"
for {
	time.Sleep(time.Millisecond)
}`
	start := time.Now()
	_, err := r.Run(context.Background(), script)
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestScriptImports(t *testing.T) {
	script := `import (
	"fmt"
	m "math"
)
import "os"
fmt.Println(m.Pi)`
	require.Equal(t, []string{"fmt", "math", "os"}, ScriptImports(script))
	require.Empty(t, ScriptImports("x := 1"))
}

func TestSplitImports(t *testing.T) {
	cases := []struct {
		name        string
		script      string
		wantImports []string
		wantBody    string
	}{
		{
			name:        "single import",
			script:      "import \"fmt\"\nfmt.Println(1)",
			wantImports: []string{`import "fmt"`},
			wantBody:    "fmt.Println(1)",
		},
		{
			name:        "import block",
			script:      "import (\n\t\"fmt\"\n\t\"math\"\n)\nfmt.Println(1)",
			wantImports: []string{`import "fmt"`, `import "math"`},
			wantBody:    "fmt.Println(1)",
		},
		{
			name:        "package clause dropped",
			script:      "package main\nimport \"fmt\"\nfmt.Println(1)",
			wantImports: []string{`import "fmt"`},
			wantBody:    "fmt.Println(1)",
		},
		{
			name:        "no imports",
			script:      "x := 1\n_ = x",
			wantImports: nil,
			wantBody:    "x := 1\n_ = x",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			imports, body := splitImports(tc.script)
			require.Equal(t, tc.wantImports, imports)
			require.Equal(t, tc.wantBody, body)
		})
	}
}
