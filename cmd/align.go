package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Align the domain, syllabus and personal graphs",
	Long: `Rebuild exact (label) alignments, then add embedding alignments and
print the overlap between the three graphs.

Embeddings use the local hashing model unless SYNAPSE_EMBEDDINGS=openai.

Examples:
  synapse align`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error { return runAlign() },
}

func runAlign() error {
	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()

	rep, err := svc.Align(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Exact alignments: %d\n", rep.Exact)
	if rep.Embedding != nil {
		fmt.Printf("Embedding alignments added: domain↔syllabus %d, domain↔personal %d, syllabus↔personal %d\n",
			rep.Embedding.DomainSyllabus, rep.Embedding.DomainPersonal, rep.Embedding.SyllabusPersonal)
	} else if rep.EmbeddingError != "" {
		fmt.Printf("⚠️  Embedding alignment skipped: %s\n", rep.EmbeddingError)
	}
	fmt.Println()
	fmt.Printf("%-22s %8s %8s\n", "Overlap", "labels", "aligned")
	fmt.Printf("%-22s %8d %8d\n", "domain ↔ syllabus", rep.Raw.DomainSyllabus, rep.Aligned.DomainSyllabus)
	fmt.Printf("%-22s %8d %8d\n", "domain ↔ personal", rep.Raw.DomainPersonal, rep.Aligned.DomainPersonal)
	fmt.Printf("%-22s %8d %8d\n", "syllabus ↔ personal", rep.Raw.SyllabusPersonal, rep.Aligned.SyllabusPersonal)
	return nil
}
