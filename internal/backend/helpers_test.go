package backend_test

import "github.com/seantiz/foundry/internal/model"

func modelTask() model.Task {
	return model.Task{
		ID:                 "t1",
		Description:        "  Add pagination to the list endpoint ",
		AcceptanceCriteria: []string{"returns next cursor", " limit defaults to 20"},
	}
}
