package test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/eventfold/bank-cqrs-go/eventstore"
)

func TestInMemoryConsistency(t *testing.T) {
	suite.Run(t, NewConsistencyTestSuite(100, 8, 0, eventstore.NewInMemoryStore()))
}

func TestInMemoryConsistencyWithSnapshotting(t *testing.T) {
	suite.Run(t, NewConsistencyTestSuite(100, 8, 5, eventstore.NewInMemoryStore()))
}
