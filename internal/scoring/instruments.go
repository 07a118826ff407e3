package scoring

// Strategy keys of the built-in instruments
const (
	BeckDepression = "beck-depression"
	BeckAnxiety    = "beck-anxiety"
	SocialPhobia   = "spin"
	PCL5           = "pcl5"
)

var beckDepression = MustBands(
	Band{0, 10, "minimal or no symptoms of depression"},
	Band{11, 16, "mild mood disturbance"},
	Band{17, 20, "borderline clinical depression"},
	Band{21, 30, "moderate depression"},
	Band{31, 40, "severe depression"},
	Band{41, Unbounded, "extreme depression"},
)

var beckAnxiety = MustBands(
	Band{0, 7, "minimal anxiety"},
	Band{8, 15, "mild anxiety"},
	Band{16, 25, "moderate anxiety"},
	Band{26, Unbounded, "severe anxiety"},
)

var socialPhobia = MustBands(
	Band{0, 20, "no or very mild social phobia"},
	Band{21, 30, "mild social phobia"},
	Band{31, 40, "moderate social phobia"},
	Band{41, 50, "severe social phobia"},
	Band{51, Unbounded, "very severe social phobia"},
)

// PCL5Cutoff is the total at which a provisional PTSD diagnosis is considered
const PCL5Cutoff = 31

var pcl5 = &ClusterStrategy{
	Clusters: []Cluster{
		{Name: "B", From: 1, To: 5, Min: 1},
		{Name: "C", From: 6, To: 7, Min: 1},
		{Name: "D", From: 8, To: 14, Min: 2},
		{Name: "E", From: 15, To: 20, Min: 2},
	},
	Cutoff:    PCL5Cutoff,
	Diagnosis: "provisional PTSD diagnosis",
	Fallback: MustBands(
		Band{0, PCL5Cutoff - 1, "below the PTSD threshold"},
		Band{PCL5Cutoff, Unbounded, "elevated PTSD symptoms, cluster criteria not met"},
	),
}

// Default returns an engine with the built-in instruments registered
func Default() *Engine {
	e := NewEngine()
	e.Register(BeckDepression, beckDepression)
	e.Register(BeckAnxiety, beckAnxiety)
	e.Register(SocialPhobia, socialPhobia)
	e.Register(PCL5, pcl5)
	return e
}
