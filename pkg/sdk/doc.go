// Package ragdex provides an in-process retrieval-augmented generation client.
//
// Documents are extracted, normalized, chunked and embedded into an in-memory
// corpus. Questions are answered by hybrid (semantic + keyword) retrieval over
// that corpus followed by grounded generation.
//
//	client, _ := ragdex.New(ctx,
//	    ragdex.WithEmbedder(myEmbedder),
//	    ragdex.WithGenerator(myGenerator),
//	)
//	_, _ = client.AddDocument(ctx, pdfBytes, "handbook.pdf")
//	ans, _ := client.Query(ctx, "How many vacation days do I get?")
//	fmt.Println(ans.Answer, ans.Citations)
//
// Streaming answers deliver the citations first, then answer fragments, then done:
//
//	_ = client.QueryStream(ctx, question, func(ev ragdex.StreamEvent) error {
//	    fmt.Print(ev.Token)
//	    return nil
//	})
package ragdex
