package alias

// seedAliases is the static vocabulary shipped with the bot. Learned
// per-conversation aliases take precedence over these on conflict.
var seedAliases = map[string]string{
	"dishes":       "washing dishes",
	"diskade":      "washing dishes",
	"disken":       "washing dishes",
	"laundry":      "laundry",
	"tvätten":      "laundry",
	"tvättade":     "laundry",
	"vacuumed":     "vacuuming",
	"hoovered":     "vacuuming",
	"dammsög":      "vacuuming",
	"groceries":    "grocery shopping",
	"handlade":     "grocery shopping",
	"trash":        "taking out trash",
	"soporna":      "taking out trash",
	"mopped":       "mopping",
	"moppade":      "mopping",
	"cooked":       "cooking",
	"lagade mat":   "cooking",
	"nap":          "resting",
	"napped":       "resting",
	"vilade":       "resting",
	"promenad":     "walking",
	"walk":         "walking",
	"yoga":         "yoga",
	"träning":      "workout",
	"gym":          "workout",
	"worked out":   "workout",
	"läste":        "reading",
	"watered":      "watering plants",
	"vattnade":     "watering plants",
	"bathroom":     "cleaning bathroom",
	"badrummet":    "cleaning bathroom",
	"changed beds": "changing sheets",
	"bäddade":      "changing sheets",
}
