package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

// ExampleGraph demonstrates opening a persistent graph and writing to it.
func ExampleGraph() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	graph := stores.NewGraph(zerolog.Nop(), store)
	if err := graph.Load(ctx); err != nil {
		log.Fatal(err)
	}

	err = graph.Update(ctx, func(tx *stores.Tx) error {
		tx.Clusters.Insert(&model.Cluster{Object: model.NewObject(1), Name: "analytics"})
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	_ = graph.View(ctx, func(tx *stores.Tx) error {
		c, _ := tx.ClusterByName("analytics")
		fmt.Println(c.ID, c.State)
		return nil
	})
	// Output: 1 created
}
