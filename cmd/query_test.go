package cmd

import (
	"io"
	"log/slog"
	"testing"

	"github.com/florinutz/ksqlq/internal/config"
)

func TestBuildQuery(t *testing.T) {
	for _, tc := range []struct {
		name string
		qc   config.QueryConfig
		want string
	}{
		{
			name: "source only",
			qc:   config.QueryConfig{From: "Tweets"},
			want: "SELECT * FROM Tweets EMIT CHANGES;",
		},
		{
			name: "columns filter limit",
			qc:   config.QueryConfig{From: "Tweets", Select: []string{"Id", " Message "}, Where: "Id > 1", Limit: 2},
			want: "SELECT Id, Message FROM Tweets WHERE Id > 1 LIMIT 2 EMIT CHANGES;",
		},
		{
			name: "star is ignored",
			qc:   config.QueryConfig{From: "Tweets", Select: []string{"*"}},
			want: "SELECT * FROM Tweets EMIT CHANGES;",
		},
		{
			name: "expressions",
			qc:   config.QueryConfig{From: "Tweets", Select: []string{"UCASE(Message) AS Upper", "LEN(Message)"}},
			want: "SELECT UCASE(Message) AS Upper, LEN(Message) FROM Tweets EMIT CHANGES;",
		},
		{
			name: "pull from table",
			qc:   config.QueryConfig{From: "Movies", Table: true, Pull: true, Where: "Id = 1"},
			want: "SELECT * FROM Movies WHERE Id = 1;",
		},
		{
			name: "name is not pluralized",
			qc:   config.QueryConfig{From: "Person"},
			want: "SELECT * FROM Person EMIT CHANGES;",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			kc, err := newContext(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				t.Fatal(err)
			}
			got, err := buildQuery(kc, tc.qc).ToQueryString()
			if err != nil {
				t.Fatalf("ToQueryString: %v", err)
			}
			if got != tc.want {
				t.Errorf("got  %s\nwant %s", got, tc.want)
			}
		})
	}
}

func TestProjection_Empty(t *testing.T) {
	if p := projection([]string{"", " * "}); p != nil {
		t.Fatalf("projection = %#v, want nil", p)
	}
}
