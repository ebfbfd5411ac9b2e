package config

type WorkerKeyStruct struct {
	UnloadSubmitQueue string
}

var WorkerKey = &WorkerKeyStruct{
	UnloadSubmitQueue: "proctor_unload_submit_queue",
}
